package memory

import (
	"errors"
	"fmt"
	"testing"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestStorageError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := storageErr("create", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "engram: create")
}

func TestStorageErr_NilPassthrough(t *testing.T) {
	assert.NoError(t, storageErr("create", nil))
}

func TestIsRetryable(t *testing.T) {
	busy := storageErr("update", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, IsRetryable(busy))

	locked := storageErr("update", sqlite3.Error{Code: sqlite3.ErrLocked})
	assert.True(t, IsRetryable(locked))

	assert.False(t, IsRetryable(storageErr("update", fmt.Errorf("constraint failed"))))
	assert.False(t, IsRetryable(nil))
}
