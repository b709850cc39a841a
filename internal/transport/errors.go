package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout      = errors.New("timeout")
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("transport closed")
)

// Error is a transport-level failure: connect, subscribe, ping or a lost channel.
// Connect timeouts are Errors wrapping ErrTimeout.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, context.DeadlineExceeded)
}

// Wrap classifies err as a transport Error for op. Deadline errors become ErrTimeout.
// Host rejections and existing transport errors pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	var rj *Rejected
	if errors.As(err, &te) || errors.As(err, &rj) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &Error{Op: op, Err: err}
}

// Rejected is returned when the host processed a request and refused it.
type Rejected struct {
	Reason string
}

func (r *Rejected) Error() string { return "host rejected: " + r.Reason }

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
