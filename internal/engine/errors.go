package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected during engine execution.
//
// Only INGEST_FAULT stops Run. Store and state errors are logged with the
// affected transaction and processing continues, because retrying would
// make the applied order depend on timing.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// TxID identifies the affected transaction, if any.
	TxID string

	// StateURI identifies the affected state, if any.
	StateURI string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeIngestFault indicates a delivery arrived with an upstream error.
	ErrCodeIngestFault RuntimeErrorCode = "INGEST_FAULT"

	// ErrCodeStoreWrite indicates an applied transaction could not be persisted.
	ErrCodeStoreWrite RuntimeErrorCode = "STORE_WRITE"

	// ErrCodeStoreRead indicates a state URI could not be resumed from the store.
	ErrCodeStoreRead RuntimeErrorCode = "STORE_READ"

	// ErrCodeStateApply indicates the state produced by a transaction could
	// not be hashed.
	ErrCodeStateApply RuntimeErrorCode = "STATE_APPLY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TxID != "" {
		msg += fmt.Sprintf(" (tx=%s, state_uri=%s)", e.TxID, e.StateURI)
	} else if e.StateURI != "" {
		msg += fmt.Sprintf(" (state_uri=%s)", e.StateURI)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsIngestFault returns true if err is an ingestion fault.
// Uses errors.As to handle wrapped errors.
func IsIngestFault(err error) bool {
	return hasCode(err, ErrCodeIngestFault)
}

// IsStoreError returns true if err is a store read or write error.
func IsStoreError(err error) bool {
	return hasCode(err, ErrCodeStoreWrite) || hasCode(err, ErrCodeStoreRead)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewIngestFault creates a RuntimeError for a delivery that carried err.
func NewIngestFault(d Delivery) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeIngestFault,
		Message:  "upstream delivery failed",
		TxID:     d.Tx.ID,
		StateURI: d.Tx.StateURI,
		Err:      d.Err,
	}
}

func newStoreWriteError(txID, stateURI string, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeStoreWrite,
		Message:  "persist applied transaction",
		TxID:     txID,
		StateURI: stateURI,
		Err:      err,
	}
}

func newStoreReadError(stateURI string, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeStoreRead,
		Message:  "resume state from store",
		StateURI: stateURI,
		Err:      err,
	}
}

func newStateApplyError(txID, stateURI string, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeStateApply,
		Message:  "hash applied state",
		TxID:     txID,
		StateURI: stateURI,
		Err:      err,
	}
}
