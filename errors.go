package perch

import "errors"

var (
	// ErrUnavailable reports that no backend engine exists in this
	// environment. Open helpers return it so callers can pick another
	// backend; it never comes out of an already-open store.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTxAborted reports a commit whose backend outcome was anything
	// other than committed.
	ErrTxAborted = errors.New("transaction aborted")

	// ErrTxFinished reports a mutation staged on a transaction after
	// Commit or Rollback.
	ErrTxFinished = errors.New("transaction already finished")
)

// StoreError wraps a backend-originating failure with a diagnostic string.
// Callers treat it as opaque; the cause, when there is one, is reachable
// through errors.Unwrap.
type StoreError struct {
	msg string
	err error
}

func NewStoreError(msg string, err error) *StoreError {
	return &StoreError{msg: msg, err: err}
}

func (e *StoreError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *StoreError) Unwrap() error { return e.err }
