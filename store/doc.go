// Package store defines the document storage contract arbor is built on.
//
// The package holds no storage engine itself. [ResourceStore] is the narrow
// capability the lock and hierarchy layers consume; the DynamoDB adapter
// lives in store/dynamo and an in-process engine for tests in store/memstore.
//
// # Documents
//
// A [Document] is a map keyed by field name with a string "id" primary key.
// Resource documents carry managed timestamps under "_meta_data". A
// document whose "ttl" (epoch seconds) is at or before now is expired and
// every adapter treats it as absent, whether or not the engine has reaped it
// yet.
//
// # Updates
//
// [Update] is a closed variant: [FieldSet] replaces top-level fields,
// [RawOperator] groups low-level SET/REMOVE/ADD/DELETE clauses. The caller
// picks one; nothing is inferred from key prefixes.
//
// # Transactions
//
// [Tx] stages operations, each with its own precondition, and applies them
// all-or-nothing on Commit. Aborted commits return a [*TxError] naming the
// failing operation and unwrapping to [ErrTransactionAborted].
//
//	tx, _ := s.Begin(ctx)
//	tx.Insert("titles", doc)
//	tx.AddToSet("studios", studioID, "title_ids", doc.ID())
//	if err := tx.Commit(ctx); err != nil {
//	    // neither write is visible
//	}
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist or is expired
//   - [ErrAlreadyExists] - insert hit a live document with the same id
//   - [ErrTransactionAborted] - transaction rolled back
//   - [ErrInvalidTx] - transaction rejected before reaching the engine
//   - [ErrInvalidUpdate] - malformed update
package store
