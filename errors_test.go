package perch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorWrapsCause(t *testing.T) {
	cause := errors.New("disk full")

	err := NewStoreError("commit", cause)

	assert.Equal(t, "commit: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestStoreErrorWithoutCause(t *testing.T) {
	err := NewStoreError("transaction abort failed", nil)

	assert.Equal(t, "transaction abort failed", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("commit: %w", ErrTxAborted)

	assert.ErrorIs(t, err, ErrTxAborted)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
