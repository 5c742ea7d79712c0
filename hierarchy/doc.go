// Package hierarchy coordinates resources nested along a path of
// collections, such as orgs → projects → tasks.
//
// Each parent document lists the ids of its children in a string-set
// field. The Coordinator keeps that list and the child documents
// consistent: a create inserts the child and adds it to the parent in one
// transaction, a delete removes both together, and nothing is written when
// any step fails.
//
// Reads never trust a child's own id alone. Get walks the path from the
// root in one snapshot and requires every ancestor to list the next id, so
// a document that exists but isn't linked reads as ErrNotFound.
//
// # Paths
//
//	p, err := hierarchy.NewPath("tasks",
//	    hierarchy.Level{Collection: "orgs", ChildrenField: "projects"},
//	    hierarchy.Level{Collection: "projects", ChildrenField: "tasks", BackRefField: "org_id"},
//	    hierarchy.Level{Collection: "tasks", BackRefField: "project_id"},
//	)
//
// Item operations (Create, Get, Update, Delete) take one id per level.
// Collection operations (GetAll, Find) take one id per ancestor level. The
// id count is checked before any I/O and a mismatch fails with
// ErrLengthMismatch.
//
// # Updates
//
// Updates are either a store.FieldSet (replace top-level fields) or a
// store.RawOperator (SET/REMOVE/ADD/DELETE on dotted paths). Fields the
// coordinator maintains (id, _meta_data, children and back-reference
// fields) are rejected with ErrManagedField.
//
// # Observers
//
// Observers registered with WithObserver receive an Event after each
// committed write. Observer errors and panics are logged, never returned.
package hierarchy
