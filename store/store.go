package store

import "context"

// ResourceStore is the storage capability the lock and hierarchy layers are
// built on. Implementations must treat documents with an expired ttl as
// absent in every operation.
type ResourceStore interface {
	// Insert atomically creates doc. It fails with ErrAlreadyExists if a
	// live document with the same id exists.
	Insert(ctx context.Context, collection string, doc Document) error

	// Get returns a document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// GetMany returns the live documents among ids, in input order.
	// Missing ids are skipped.
	GetMany(ctx context.Context, collection string, ids []string) ([]Document, error)

	// GetPath reads every ref in one consistent snapshot. The result has the
	// same length as refs, with nil entries for missing documents.
	GetPath(ctx context.Context, refs []Ref) ([]Document, error)

	// List returns every live document in a collection.
	List(ctx context.Context, collection string) ([]Document, error)

	// Delete removes a document and reports how many were removed (0 or 1).
	Delete(ctx context.Context, collection, id string) (int64, error)

	// Begin starts a transaction context.
	Begin(ctx context.Context) (*Tx, error)
}
