// Package market turns host quotes into the latest-quote map, chart points and
// indicator updates.
package market

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/chart"
	"trading-assistant/internal/events"
	"trading-assistant/internal/indicators"
	"trading-assistant/internal/monitor"
	"trading-assistant/internal/transport"
	"trading-assistant/pkg/cache"
)

// Stream is fed by the connection manager on the event loop.
type Stream struct {
	cache      *cache.QuoteCache
	chart      *chart.State
	indicators *indicators.Engine
	bus        *events.Bus
	metrics    *monitor.Metrics
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	subs     map[string][]chan transport.Quote
	lastHost map[string]transport.Quote
	dropped  atomic.Uint64
}

type StreamConfig struct {
	Cache      *cache.QuoteCache
	Chart      *chart.State
	Indicators *indicators.Engine
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Log        zerolog.Logger
}

func NewStream(cfg StreamConfig) *Stream {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewQuoteCache()
	}
	return &Stream{
		cache:      cfg.Cache,
		chart:      cfg.Chart,
		indicators: cfg.Indicators,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		log:        cfg.Log.With().Str("component", "quotes").Logger(),
		now:        time.Now,
		subs:       make(map[string][]chan transport.Quote),
		lastHost:   make(map[string]transport.Quote),
	}
}

// OnQuote ingests one tick. It returns the stamped quote and false when the
// tick was a duplicate or arrived behind a newer one for the same symbol.
func (s *Stream) OnQuote(q transport.Quote) (transport.Quote, bool) {
	if q.Symbol == "" {
		return q, false
	}
	if s.duplicate(q) {
		return q, false
	}

	q.Spread = q.Ask - q.Bid
	q.Timestamp = s.now()
	s.cache.Set(q)
	s.metrics.QuoteReceived(q.Symbol)

	mid := q.Mid()
	if s.indicators != nil {
		s.indicators.Update(q.Symbol, mid)
	}
	if s.chart != nil && s.chart.ActiveSymbol() == q.Symbol {
		s.chart.AppendPrice(chart.Point{Time: q.Timestamp, Value: mid})
		s.chart.AppendVolume(chart.Point{Time: q.Timestamp, Value: 1})
	}
	if s.bus != nil {
		s.bus.Quotes.Publish(events.QuoteUpdate{Quote: q})
	}
	s.fanOut(q)
	return q, true
}

// duplicate drops ticks that repeat or precede the last host timestamp.
func (s *Stream) duplicate(q transport.Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Timestamp.IsZero() {
		return false
	}
	last, ok := s.lastHost[q.Symbol]
	if ok {
		if q.Timestamp.Before(last.Timestamp) {
			return true
		}
		if q.Timestamp.Equal(last.Timestamp) && q.Bid == last.Bid && q.Ask == last.Ask {
			return true
		}
	}
	s.lastHost[q.Symbol] = q
	return false
}

func (s *Stream) fanOut(q transport.Quote) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[q.Symbol] {
		select {
		case ch <- q:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribe delivers quotes for symbol in arrival order. A full buffer drops quotes.
func (s *Stream) Subscribe(symbol string, buffer int) (<-chan transport.Quote, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan transport.Quote, buffer)
	s.subs[symbol] = append(s.subs[symbol], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[symbol]
			for i, c := range list {
				if c == ch {
					s.subs[symbol] = append(list[:i], list[i+1:]...)
					close(ch)
					break
				}
			}
			if len(s.subs[symbol]) == 0 {
				delete(s.subs, symbol)
			}
		})
	}
}

// Latest returns the newest quote for symbol.
func (s *Stream) Latest(symbol string) (transport.Quote, bool) {
	return s.cache.Get(symbol)
}

// Snapshot returns the latest quote of every symbol seen.
func (s *Stream) Snapshot() []transport.Quote {
	return s.cache.Snapshot()
}

// Indicators returns the live indicator values for symbol.
// Forget drops the live indicator accumulators of an unsubscribed symbol.
func (s *Stream) Forget(symbol string) {
	if s.indicators != nil {
		s.indicators.Reset(symbol)
	}
}

func (s *Stream) Indicators(symbol string) map[string]float64 {
	if s.indicators == nil {
		return nil
	}
	return s.indicators.Latest(symbol)
}

// Dropped returns per-symbol deliveries skipped for slow subscribers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
