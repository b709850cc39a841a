package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/transport"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs orders in the background on a bounded worker pool, for
// callers that only want to know the request was accepted. Validation still
// happens synchronously in Submit; the outcome arrives as a trade.result event.
type Dispatcher struct {
	executor   *Executor
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(executor *Executor, workers int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		executor:   executor,
		workerPool: make(chan struct{}, workers),
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// Submit validates the order and queues it. It blocks while every worker is
// busy, until ctx ends.
func (d *Dispatcher) Submit(ctx context.Context, side transport.Side, p Params) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	t, err := d.executor.prepare(side, p)
	if err != nil {
		d.wg.Done()
		return err
	}

	select {
	case d.workerPool <- struct{}{}:
	case <-ctx.Done():
		d.wg.Done()
		return ctx.Err()
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.workerPool }()

		start := time.Now()
		res, err := d.executor.submit(bg, t)
		if err != nil {
			d.log.Warn().Err(err).Str("symbol", t.params.Symbol).Dur("latency", time.Since(start)).Msg("background order failed")
			return
		}
		d.log.Info().Str("order_id", res.OrderID).Dur("latency", time.Since(start)).Msg("background order executed")
	}()
	return nil
}

// Pending returns the number of running orders.
func (d *Dispatcher) Pending() int {
	return len(d.workerPool)
}

// Close rejects new submissions and waits for running ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
