package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrLoopStopped is returned when work is posted after the loop exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop is the single-threaded sequencer. Every handler posted to it runs to
// completion before the next one starts, so handlers may mutate owned state
// without further locking.
type Loop struct {
	inbox chan func()
	done  chan struct{}
	log   zerolog.Logger
}

// NewLoop creates a loop with the given inbox capacity.
func NewLoop(buffer int, log zerolog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		inbox: make(chan func(), buffer),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run processes posted handlers until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.inbox:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()
	fn()
}

// Post enqueues fn in arrival order. It blocks while the inbox is full and
// returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it. It must not be used from inside a handler.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ok := l.Post(func() {
		defer close(finished)
		fn()
	})
	if !ok {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return fmt.Errorf("event loop call: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
