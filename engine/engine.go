// Package engine defines the backend engine contract: transactional
// engines whose per-key operations complete through callbacks and whose
// transactions finish with exactly one terminal event. The store adapter
// in package enginestore turns any implementation into a blocking Store.
package engine

import "errors"

var (
	// ErrTxDone reports a request issued after the transaction reached
	// its terminal event.
	ErrTxDone = errors.New("engine transaction finished")

	// ErrReadOnly reports a mutation requested on a read transaction.
	ErrReadOnly = errors.New("read-only engine transaction")
)

// Engine is one open backend database holding a single object store.
type Engine interface {
	// Begin starts a transaction. Only writable transactions may mutate
	// the object store.
	Begin(writable bool) (Tx, error)

	// Close releases the backend once every transaction is finished.
	Close() error
}

// Tx is one engine transaction. Per-key requests are asynchronous: each
// done callback fires exactly once, from the transaction's own goroutine,
// in request order. Terminal-event handlers must be registered before the
// first request; exactly one terminal event fires, and only after Commit
// or Abort is requested.
type Tx interface {
	Get(key string, done func(value []byte, ok bool, err error))
	Count(key string, done func(n int, err error))
	Put(key string, value []byte, done func(err error))
	Delete(key string, done func(err error))

	OnComplete(func())
	OnAbort(func())
	OnError(func(error))

	// Commit requests the terminal commit. The disposition arrives
	// through the terminal events, not a return value.
	Commit()

	// Abort requests rollback, with the same event-driven disposition.
	Abort()

	// Err reports the transaction-level failure recorded by the engine,
	// if any. Authoritative over per-request results.
	Err() error
}
