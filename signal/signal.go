// Package signal bridges callback-style backend engines and blocking
// callers: one-shot completion signals for per-key requests and the
// once-resolved outcome cell for whole transactions.
package signal

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrCanceled reports that a signal was canceled before it was fulfilled.
var ErrCanceled = errors.New("signal canceled before fulfillment")

// Signal is a single-use completion signal with one producer side and one
// awaiting side. Create it before issuing the request it tracks, fulfill it
// from the completion callback, await it from the caller. Only the first
// fulfillment is delivered; later ones are logged and dropped, since
// success and error callbacks may race.
type Signal[T any] struct {
	payload chan T
	done    chan struct{}
	cancel  sync.Once
}

func New[T any]() *Signal[T] {
	return &Signal[T]{
		payload: make(chan T, 1),
		done:    make(chan struct{}),
	}
}

// Fulfill hands v to the awaiting side without blocking.
func (s *Signal[T]) Fulfill(v T) {
	select {
	case s.payload <- v:
	default:
		slog.Warn("completion signal already fulfilled, dropping value")
	}
}

// Cancel releases the awaiting side with ErrCanceled if no fulfillment
// arrives. Idempotent.
func (s *Signal[T]) Cancel() {
	s.cancel.Do(func() { close(s.done) })
}

// Await blocks until the signal is fulfilled or canceled. A fulfillment
// that raced cancellation still wins.
func (s *Signal[T]) Await() (T, error) {
	select {
	case v := <-s.payload:
		return v, nil
	case <-s.done:
		select {
		case v := <-s.payload:
			return v, nil
		default:
		}
		var zero T
		return zero, ErrCanceled
	}
}
