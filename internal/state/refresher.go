package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/transport"
)

// PositionSource lists the host's open positions.
type PositionSource interface {
	GetPositions(ctx context.Context) ([]transport.Position, error)
}

// Refresher reloads the registry from the host after execution events. At most
// one refresh is in flight; triggers arriving meanwhile collapse into a single
// follow-up refresh, so the last trigger is always followed by a fetch that
// started after it.
type Refresher struct {
	src      PositionSource
	registry *Registry
	timeout  time.Duration
	ready    func() bool
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	pending bool
	runs    int
}

func NewRefresher(src PositionSource, registry *Registry, timeout time.Duration, ready func() bool, log zerolog.Logger) *Refresher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Refresher{
		src:      src,
		registry: registry,
		timeout:  timeout,
		ready:    ready,
		log:      log.With().Str("component", "refresher").Logger(),
	}
}

// Trigger requests a refresh without blocking.
func (f *Refresher) Trigger() {
	f.mu.Lock()
	if f.running {
		f.pending = true
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.loop()
}

func (f *Refresher) loop() {
	for {
		f.refresh()

		f.mu.Lock()
		f.runs++
		if f.pending {
			f.pending = false
			f.mu.Unlock()
			continue
		}
		f.running = false
		f.mu.Unlock()
		return
	}
}

func (f *Refresher) refresh() {
	if f.ready != nil && !f.ready() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	list, err := f.src.GetPositions(ctx)
	if err != nil {
		f.log.Warn().Err(transport.Wrap("positions", err)).Msg("position refresh failed")
		return
	}
	f.registry.Reload(list)
}

// Runs returns how many refreshes completed.
func (f *Refresher) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// Busy reports whether a refresh is in flight or queued.
func (f *Refresher) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
