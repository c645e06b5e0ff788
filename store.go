// Package perch is a transactional key-value store for local-first sync
// engines. It layers atomic multi-key writes, snapshot reads and strict
// reader/writer admission ordering over backends that offer none of these
// natively, including engines whose operations complete through callbacks.
package perch

// Store is a handle to one logical key-value database. All access goes
// through transactions; Put, Has and Get open and finish a transaction per
// call.
type Store interface {
	// Read opens a read-only transaction over a consistent snapshot.
	// It blocks while a write transaction is open.
	Read() (Read, error)

	// Write opens the one write transaction. It blocks until every open
	// transaction, read or write, is finished, and requests are admitted
	// in arrival order.
	Write() (Write, error)

	Put(key string, value []byte) error
	Has(key string) (bool, error)
	Get(key string) ([]byte, bool, error)

	// Close releases the backend. Callers finish their transactions first.
	Close() error
}

// Read is a read-only view over one backend snapshot.
type Read interface {
	Has(key string) (bool, error)

	// Get reports the value under key and whether the key is present, so
	// an empty value is distinguishable from an absent one. The returned
	// slice is the caller's to keep.
	Get(key string) ([]byte, bool, error)

	// Release closes the view and lets blocked transactions proceed.
	// Safe to call more than once, and safe to defer.
	Release()
}

// Write is a read-write transaction. Mutations land in a local buffer and
// reach the backend only on Commit; reads through a Write observe the
// buffered state merged over the snapshot, so a Write doubles as a Read of
// its own dirty view. Release on a Write is a best-effort Rollback, which
// makes a deferred Release the rollback-unless-committed idiom.
type Write interface {
	Read

	// Put stages value under key. No backend traffic until Commit.
	Put(key string, value []byte) error

	// Del stages a deletion of key. Has and Get through this transaction
	// reflect it immediately.
	Del(key string) error

	// Commit applies every staged mutation atomically. With nothing
	// staged it succeeds without touching the backend.
	Commit() error

	// Rollback discards the staged mutations. Rolling back a transaction
	// the backend already finished on its own is not an error, and with
	// nothing staged it always succeeds.
	Rollback() error
}
