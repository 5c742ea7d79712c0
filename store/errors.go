package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document doesn't exist or has expired (ttl <= now).
	ErrNotFound = errors.New("arbor: document not found")

	// ErrAlreadyExists is returned when inserting a document whose id is already taken.
	ErrAlreadyExists = errors.New("arbor: document already exists")

	// ErrTransactionAborted is returned when a transaction was rolled back.
	// No operation of the transaction is visible afterwards.
	ErrTransactionAborted = errors.New("arbor: transaction aborted")

	// ErrTxClosed is returned when a committed or aborted transaction is reused.
	ErrTxClosed = errors.New("arbor: transaction already closed")

	// ErrInvalidTx is returned for transactions the engine would reject outright
	// (empty, too large, or touching the same document twice).
	ErrInvalidTx = errors.New("arbor: invalid transaction")

	// ErrInvalidUpdate is returned for malformed Update values.
	ErrInvalidUpdate = errors.New("arbor: invalid update")
)

// Cancellation reasons reported in TxError.Reason.
const (
	ReasonConditionFailed = "ConditionalCheckFailed"
	ReasonConflict        = "TransactionConflict"
	ReasonFault           = "Fault"
)

// TxError describes why a transaction was aborted. It always unwraps to
// ErrTransactionAborted and, when known, to the underlying cause.
type TxError struct {
	// Index is the position of the failing operation, or -1 if the whole
	// transaction was rejected.
	Index int

	// Op is the failing operation (zero value when Index is -1).
	Op TxOp

	// Reason is the engine's cancellation code (e.g. ReasonConditionFailed).
	Reason string

	// Err is the underlying cause, may be nil.
	Err error
}

func (e *TxError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := ErrTransactionAborted.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s at op %d (%s)", msg, e.Index, e.Op)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TxError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrTransactionAborted}
	}
	return []error{ErrTransactionAborted, e.Err}
}

// ConditionFailed reports whether the operation's precondition did not hold.
func (e *TxError) ConditionFailed() bool {
	return e != nil && e.Reason == ReasonConditionFailed
}

// AsTxError extracts a *TxError from err.
func AsTxError(err error) (*TxError, bool) {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr, true
	}
	return nil, false
}
