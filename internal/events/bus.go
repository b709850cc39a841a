package events

import (
	"sync"
	"sync/atomic"
)

// Topic is a typed pub/sub channel for one event kind.
type Topic[T any] struct {
	name    Event
	mu      sync.RWMutex
	subs    []chan T
	dropped atomic.Uint64
}

// NewTopic creates an empty topic.
func NewTopic[T any](name Event) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the topic identifier.
func (t *Topic[T]) Name() Event { return t.name }

// Subscribe registers a listener and returns the channel and an unsubscribe function.
// Calling the unsubscribe function more than once is a no-op.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, buffer)
	t.subs = append(t.subs, ch)

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range t.subs {
			if c == ch {
				close(c)
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the payload out without blocking and returns how many subscribers
// received it. Slow subscribers miss the event and the drop is counted.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	delivered := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
			t.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the current listener count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (t *Topic[T]) Dropped() uint64 { return t.dropped.Load() }

// Bus groups the outbound topics consumed by the UI layer.
type Bus struct {
	Connection    *Topic[ConnectionStatus]
	Quotes        *Topic[QuoteUpdate]
	Chart         *Topic[ChartUpdate]
	Positions     *Topic[PositionsChanged]
	Account       *Topic[AccountChanged]
	Trades        *Topic[TradeResult]
	Confirmations *Topic[ConfirmationRequest]
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		Connection:    NewTopic[ConnectionStatus](EventConnectionStatus),
		Quotes:        NewTopic[QuoteUpdate](EventQuote),
		Chart:         NewTopic[ChartUpdate](EventChartReplaced),
		Positions:     NewTopic[PositionsChanged](EventPositionsChanged),
		Account:       NewTopic[AccountChanged](EventAccountChanged),
		Trades:        NewTopic[TradeResult](EventTradeResult),
		Confirmations: NewTopic[ConfirmationRequest](EventConfirmationRequested),
	}
}

// Dropped reports per-topic drop counters.
func (b *Bus) Dropped() map[Event]uint64 {
	return map[Event]uint64{
		b.Connection.Name():    b.Connection.Dropped(),
		b.Quotes.Name():        b.Quotes.Dropped(),
		b.Chart.Name():         b.Chart.Dropped(),
		b.Positions.Name():     b.Positions.Dropped(),
		b.Account.Name():       b.Account.Dropped(),
		b.Trades.Name():        b.Trades.Dropped(),
		b.Confirmations.Name(): b.Confirmations.Dropped(),
	}
}
