package store

import (
	"context"
	"fmt"
)

// MaxTxOps is the largest number of operations a transaction may stage.
const MaxTxOps = 100

// OpKind identifies a staged transaction operation.
type OpKind int

const (
	// OpInsert creates a document; fails if the id is live.
	OpInsert OpKind = iota + 1

	// OpUpdate applies a RawOperator; fails if the document is missing.
	OpUpdate

	// OpDelete removes a document; fails if it is missing.
	OpDelete

	// OpAddToSet adds Value to the set Field; fails if the document is missing.
	OpAddToSet

	// OpRemoveFromSet removes Value from the set Field; fails unless the set contains it.
	OpRemoveFromSet

	// OpCheck asserts the document exists and, if Field is set, that the set contains Value.
	OpCheck
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpAddToSet:
		return "add_to_set"
	case OpRemoveFromSet:
		return "remove_from_set"
	case OpCheck:
		return "check"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// TxOp is one staged operation together with its precondition.
type TxOp struct {
	Kind       OpKind
	Collection string
	ID         string

	// Doc is the document for OpInsert.
	Doc Document

	// Update is the change for OpUpdate.
	Update RawOperator

	// Field and Value are the set field and member for set operations and checks.
	Field string
	Value string

	// RequireEmpty makes OpDelete fail unless this set field is empty.
	RequireEmpty string

	// MatchField and MatchValue make OpDelete fail unless the string field
	// MatchField holds MatchValue.
	MatchField string
	MatchValue string
}

func (o TxOp) String() string {
	s := fmt.Sprintf("%s %s/%s", o.Kind, o.Collection, o.ID)
	if o.Field != "" {
		s += fmt.Sprintf(" %s[%s]", o.Field, o.Value)
	}
	return s
}

// Ref returns the document the operation targets.
func (o TxOp) Ref() Ref {
	return Ref{Collection: o.Collection, ID: o.ID}
}

// CommitFunc applies staged operations atomically.
type CommitFunc func(ctx context.Context, ops []TxOp) error

// TxOption modifies a staged operation.
type TxOption func(*TxOp)

// RequireEmpty guards a delete so it only succeeds while field holds no members.
func RequireEmpty(field string) TxOption {
	return func(op *TxOp) {
		op.RequireEmpty = field
	}
}

// RequireValue guards a delete so it only succeeds while the string field
// equals value.
func RequireValue(field, value string) TxOption {
	return func(op *TxOp) {
		op.MatchField = field
		op.MatchValue = value
	}
}

// Tx is a transaction context. Operations are staged in order and applied
// all-or-nothing by Commit. A Tx is not safe for concurrent use.
type Tx struct {
	ops    []TxOp
	commit CommitFunc
	closed bool
}

// NewTx returns a transaction that hands its staged operations to commit.
// Storage adapters use it to implement ResourceStore.Begin.
func NewTx(commit CommitFunc) *Tx {
	return &Tx{commit: commit}
}

// Insert stages creation of doc, which must carry an id.
func (t *Tx) Insert(collection string, doc Document) {
	t.stage(TxOp{Kind: OpInsert, Collection: collection, ID: doc.ID(), Doc: doc})
}

// Update stages a change to an existing document.
func (t *Tx) Update(collection, id string, u RawOperator) {
	t.stage(TxOp{Kind: OpUpdate, Collection: collection, ID: id, Update: u})
}

// Delete stages removal of an existing document.
func (t *Tx) Delete(collection, id string, opts ...TxOption) {
	op := TxOp{Kind: OpDelete, Collection: collection, ID: id}
	for _, opt := range opts {
		opt(&op)
	}
	t.stage(op)
}

// AddToSet stages adding value to the set field of an existing document.
func (t *Tx) AddToSet(collection, id, field, value string) {
	t.stage(TxOp{Kind: OpAddToSet, Collection: collection, ID: id, Field: field, Value: value})
}

// RemoveFromSet stages removing value from the set field; the set must contain it.
func (t *Tx) RemoveFromSet(collection, id, field, value string) {
	t.stage(TxOp{Kind: OpRemoveFromSet, Collection: collection, ID: id, Field: field, Value: value})
}

// Check stages an existence check, and a membership check when field is non-empty.
func (t *Tx) Check(collection, id, field, value string) {
	t.stage(TxOp{Kind: OpCheck, Collection: collection, ID: id, Field: field, Value: value})
}

// Ops returns a copy of the staged operations.
func (t *Tx) Ops() []TxOp {
	return append([]TxOp(nil), t.ops...)
}

// Len returns the number of staged operations.
func (t *Tx) Len() int {
	return len(t.ops)
}

// Commit applies every staged operation or none of them. Failures are
// reported as *TxError.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	if err := ValidateOps(t.ops); err != nil {
		return &TxError{Index: -1, Err: err}
	}
	err := t.commit(ctx, t.ops)
	if err == nil {
		return nil
	}
	if _, ok := AsTxError(err); ok {
		return err
	}
	return &TxError{Index: -1, Err: err}
}

// Abort discards the staged operations. It is safe to call after Commit.
func (t *Tx) Abort() {
	t.closed = true
	t.ops = nil
}

func (t *Tx) stage(op TxOp) {
	if t.closed {
		return
	}
	t.ops = append(t.ops, op)
}

// ValidateOps rejects transactions a storage engine would refuse: empty,
// oversized, missing ids, or touching the same document twice.
func ValidateOps(ops []TxOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidTx)
	}
	if len(ops) > MaxTxOps {
		return fmt.Errorf("%w: %d operations exceeds %d", ErrInvalidTx, len(ops), MaxTxOps)
	}
	seen := make(map[Ref]int, len(ops))
	for i, op := range ops {
		if op.Collection == "" || op.ID == "" {
			return fmt.Errorf("%w: op %d (%s) has no target", ErrInvalidTx, i, op)
		}
		if prev, dup := seen[op.Ref()]; dup {
			return fmt.Errorf("%w: ops %d and %d both target %s", ErrInvalidTx, prev, i, op.Ref())
		}
		seen[op.Ref()] = i
		switch op.Kind {
		case OpUpdate:
			if err := ValidateRaw(op.Update); err != nil {
				return err
			}
		case OpAddToSet, OpRemoveFromSet:
			if op.Field == "" || op.Value == "" {
				return fmt.Errorf("%w: op %d (%s) needs field and value", ErrInvalidTx, i, op)
			}
		}
	}
	return nil
}
