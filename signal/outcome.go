package signal

import (
	"log/slog"
	"sync"
)

// State is the disposition of a write transaction.
type State int

const (
	Open State = iota
	Committed
	Aborted
	Errored
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome is the once-resolved outcome cell of a write transaction. The
// backend's terminal callbacks race to Resolve it; the first one wins and
// later resolutions are logged and dropped, never an error. Any number of
// waiters may block on Wait.
type Outcome struct {
	mx    sync.Mutex
	cond  *sync.Cond
	state State
}

func NewOutcome() *Outcome {
	o := &Outcome{}
	o.cond = sync.NewCond(&o.mx)
	return o
}

// Resolve moves the cell from Open to a terminal state and wakes every
// waiter.
func (o *Outcome) Resolve(state State) {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.state != Open {
		slog.Warn("transaction outcome already resolved",
			"state", o.state.String(), "dropped", state.String())
		return
	}
	o.state = state
	o.cond.Broadcast()
}

// Wait blocks until the cell is resolved and reports the terminal state.
func (o *Outcome) Wait() State {
	o.mx.Lock()
	defer o.mx.Unlock()
	for o.state == Open {
		o.cond.Wait()
	}
	return o.state
}

// Load reports the current state without blocking.
func (o *Outcome) Load() State {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.state
}
