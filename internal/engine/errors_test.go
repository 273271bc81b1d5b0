package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/txq/internal/ir"
)

func TestRuntimeError_Error(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewIngestFault(Delivery{Tx: ir.Tx{ID: "t1", StateURI: "chat"}, Err: cause})

	assert.Equal(t, "INGEST_FAULT: upstream delivery failed (tx=t1, state_uri=chat): socket closed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRuntimeError_URIOnly(t *testing.T) {
	err := newStoreReadError("chat", errors.New("locked"))

	assert.Equal(t, "STORE_READ: resume state from store (state_uri=chat): locked", err.Error())
}

func TestIsIngestFault(t *testing.T) {
	fault := NewIngestFault(Delivery{Err: errors.New("x")})

	assert.True(t, IsIngestFault(fault))
	assert.True(t, IsIngestFault(fmt.Errorf("wrapped: %w", fault)))
	assert.False(t, IsIngestFault(newStoreWriteError("t", "u", errors.New("x"))))
	assert.False(t, IsIngestFault(errors.New("plain")))
	assert.False(t, IsIngestFault(nil))
}

func TestIsStoreError(t *testing.T) {
	assert.True(t, IsStoreError(newStoreWriteError("t", "u", errors.New("x"))))
	assert.True(t, IsStoreError(errors.Join(newStoreReadError("u", errors.New("x")))))
	assert.False(t, IsStoreError(newStateApplyError("t", "u", errors.New("x"))))
}
