package engine

import (
	"log/slog"
	"sync"
)

// Runner is the request loop engine implementations embed: it serializes a
// transaction's requests onto one goroutine, keeps the registered terminal
// handlers, and guarantees at most one terminal event fires. A single
// caller goroutine issues requests, so the terminal request is always last
// in the queue.
type Runner struct {
	reqs chan func()
	done chan struct{}

	mx         sync.Mutex
	err        error
	finished   bool
	fired      bool
	onComplete func()
	onAbort    func()
	onError    func(error)
}

func NewRunner() *Runner {
	r := &Runner{
		reqs: make(chan func(), 16),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	for {
		select {
		case req := <-r.reqs:
			req()
		case <-r.done:
			return
		}
	}
}

// Do enqueues a request. It reports false, without running anything, once
// Finish has been called; the caller then answers its callback with
// ErrTxDone itself.
func (r *Runner) Do(req func()) bool {
	r.mx.Lock()
	finished := r.finished
	r.mx.Unlock()
	if finished {
		return false
	}
	r.reqs <- req
	return true
}

// Finish enqueues the terminal request and stops the loop after it runs.
// Do rejects requests from here on, so the terminal is always the last
// entry in the queue. A second Finish is dropped.
func (r *Runner) Finish(terminal func()) {
	r.mx.Lock()
	if r.finished {
		r.mx.Unlock()
		return
	}
	r.finished = true
	r.mx.Unlock()
	r.reqs <- func() {
		terminal()
		close(r.done)
	}
}

// OnComplete registers the commit event handler.
func (r *Runner) OnComplete(f func()) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.onComplete = f
}

// OnAbort registers the rollback event handler.
func (r *Runner) OnAbort(f func()) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.onAbort = f
}

// OnError registers the failure event handler.
func (r *Runner) OnError(f func(error)) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.onError = f
}

// Err reports the recorded transaction-level failure.
func (r *Runner) Err() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.err
}

// Fail records a transaction-level failure. The first one sticks.
func (r *Runner) Fail(err error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// FireComplete delivers the commit event.
func (r *Runner) FireComplete() {
	if f := r.takeHandlers(); f != nil && f.onComplete != nil {
		f.onComplete()
	}
}

// FireAbort delivers the rollback event.
func (r *Runner) FireAbort() {
	if f := r.takeHandlers(); f != nil && f.onAbort != nil {
		f.onAbort()
	}
}

// FireError records err and delivers the failure event.
func (r *Runner) FireError(err error) {
	r.Fail(err)
	if f := r.takeHandlers(); f != nil && f.onError != nil {
		f.onError(err)
	}
}

type handlers struct {
	onComplete func()
	onAbort    func()
	onError    func(error)
}

// takeHandlers claims the one allowed terminal event. A second claim is
// logged and denied.
func (r *Runner) takeHandlers() *handlers {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.fired {
		slog.Warn("engine transaction fired a second terminal event, dropping it")
		return nil
	}
	r.fired = true
	return &handlers{r.onComplete, r.onAbort, r.onError}
}
