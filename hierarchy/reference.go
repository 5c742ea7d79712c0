package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/arbor/store"
)

// References manages the children set of one parent level. Every change is
// a single-operation transaction with a precondition, so a missing parent
// fails instead of creating a stub document.
type References struct {
	rs         store.ResourceStore
	collection string
	field      string
}

// NewReferences returns a reference store for field on collection's documents.
func NewReferences(rs store.ResourceStore, collection, field string) *References {
	return &References{rs: rs, collection: collection, field: field}
}

// Collection returns the parent collection.
func (r *References) Collection() string {
	return r.collection
}

// Field returns the children field.
func (r *References) Field() string {
	return r.field
}

// Add puts childID in the parent's children set. Adding an existing member
// is a no-op. Fails with ErrNotFound if the parent doesn't exist.
func (r *References) Add(ctx context.Context, parentID, childID string) error {
	return r.run(ctx, "add child", parentID, childID, func(tx *store.Tx) {
		r.stageAdd(tx, parentID, childID)
	})
}

// Remove takes childID out of the parent's children set. Fails with
// ErrNotFound if the parent doesn't exist or doesn't list childID.
func (r *References) Remove(ctx context.Context, parentID, childID string) error {
	return r.run(ctx, "remove child", parentID, childID, func(tx *store.Tx) {
		r.stageRemove(tx, parentID, childID)
	})
}

// Contains reports whether the parent lists childID.
func (r *References) Contains(ctx context.Context, parentID, childID string) (bool, error) {
	parent, err := r.rs.Get(ctx, r.collection, parentID)
	if err != nil {
		return false, err
	}
	return parent.HasMember(r.field, childID), nil
}

// Children returns the parent's child ids, sorted.
func (r *References) Children(ctx context.Context, parentID string) ([]string, error) {
	parent, err := r.rs.Get(ctx, r.collection, parentID)
	if err != nil {
		return nil, err
	}
	return parent.StringSet(r.field), nil
}

func (r *References) stageAdd(tx *store.Tx, parentID, childID string) {
	tx.AddToSet(r.collection, parentID, r.field, childID)
}

func (r *References) stageRemove(tx *store.Tx, parentID, childID string) {
	tx.RemoveFromSet(r.collection, parentID, r.field, childID)
}

func (r *References) stageCheck(tx *store.Tx, parentID, childID string) {
	tx.Check(r.collection, parentID, r.field, childID)
}

func (r *References) run(ctx context.Context, op, parentID, childID string, stage func(*store.Tx)) error {
	tx, err := r.rs.Begin(ctx)
	if err != nil {
		return err
	}
	stage(tx)
	err = tx.Commit(ctx)
	recordTx(op, err)
	if err == nil {
		return nil
	}
	if te, ok := store.AsTxError(err); ok && te.ConditionFailed() {
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &ResourceError{Op: op, Collection: r.collection, IDs: []string{parentID, childID}, Err: err}
}

// isNotFound reports whether err means a document was absent.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
