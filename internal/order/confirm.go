package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
)

// ErrUnknownConfirmation is returned by Resolve for an id that is not pending.
var ErrUnknownConfirmation = errors.New("unknown or expired confirmation")

// Confirmer obtains a yes/no answer for a large trade. A false answer with a
// nil error is a decline.
type Confirmer interface {
	Confirm(ctx context.Context, req events.ConfirmationRequest) (bool, error)
}

// AutoConfirm answers every request with Approve. Used for headless runs.
type AutoConfirm struct {
	Approve bool
}

func (a AutoConfirm) Confirm(ctx context.Context, req events.ConfirmationRequest) (bool, error) {
	return a.Approve, nil
}

type pendingConfirm struct {
	req   events.ConfirmationRequest
	reply chan bool
}

// Broker publishes confirmation requests on the bus and waits for Resolve.
// An unanswered request is declined once its timeout passes.
type Broker struct {
	bus     *events.Bus
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingConfirm
}

func NewBroker(bus *events.Bus, timeout time.Duration, log zerolog.Logger) *Broker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Broker{
		bus:     bus,
		timeout: timeout,
		log:     log.With().Str("component", "confirm").Logger(),
		pending: make(map[string]*pendingConfirm),
	}
}

// Confirm blocks until the request is resolved, times out or ctx ends.
func (b *Broker) Confirm(ctx context.Context, req events.ConfirmationRequest) (bool, error) {
	req.ID = uuid.NewString()
	req.ExpiresAt = time.Now().Add(b.timeout)
	p := &pendingConfirm{req: req, reply: make(chan bool, 1)}

	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()
	defer b.forget(req.ID)

	if b.bus != nil {
		b.bus.Confirmations.Publish(req)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case ok := <-p.reply:
		return ok, nil
	case <-timer.C:
		b.log.Info().Str("confirmation_id", req.ID).Msg("confirmation expired, declining")
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve answers a pending request.
func (b *Broker) Resolve(id string, approve bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return ErrUnknownConfirmation
	}
	p.reply <- approve
	return nil
}

// Pending lists unanswered requests, oldest expiry first.
func (b *Broker) Pending() []events.ConfirmationRequest {
	b.mu.Lock()
	out := make([]events.ConfirmationRequest, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
