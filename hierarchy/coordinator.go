package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jacentio/arbor/store"
)

// Coordinator keeps the documents of a resource path and their parents'
// children sets consistent. Every write is one transaction; every read
// walks the path from the root so a document is only visible through the
// ancestors that list it.
type Coordinator struct {
	rs        store.ResourceStore
	path      Path
	logger    *slog.Logger
	now       func() time.Time
	observers []Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source for _meta_data timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithObserver registers observers notified after each committed write.
func WithObserver(observers ...Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, observers...)
	}
}

// New creates a coordinator for path over rs.
func New(rs store.ResourceStore, path Path, opts ...Option) (*Coordinator, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		rs:     rs,
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("path", path.Name)
	return c, nil
}

// Path returns the coordinator's path.
func (c *Coordinator) Path() Path {
	return c.path
}

// References returns the reference store for the children set of the
// given level (0 is the root).
func (c *Coordinator) References(level int) (*References, error) {
	if level < 0 || level >= len(c.path.Levels) {
		return nil, fmt.Errorf("%w: level %d out of range", ErrInvalidPath, level)
	}
	l := c.path.Levels[level]
	if l.ChildrenField == "" {
		return nil, fmt.Errorf("%w: level %s has no children field", ErrInvalidPath, l.Collection)
	}
	return NewReferences(c.rs, l.Collection, l.ChildrenField), nil
}

// Create inserts doc as the leaf ids[len(ids)-1] and links it into its
// parent, in one transaction. doc must not set managed fields; its id, if
// present, must match the last id.
//
// Fails with ErrCreateFailed when the parent chain is missing or broken or
// the id is already taken. Nothing is written in that case.
func (c *Coordinator) Create(ctx context.Context, ids []string, doc store.Document) (store.Document, error) {
	const op = "create"
	if err := c.path.checkItem(op, ids); err != nil {
		return nil, err
	}
	leaf := c.path.Leaf()
	depth := c.path.Depth()
	id := ids[depth]

	for field, v := range doc {
		if field == store.FieldID && v == id {
			continue
		}
		if c.path.managed(field) {
			return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: fmt.Errorf("%w: %s", ErrManagedField, field)}
		}
	}

	if depth > 0 {
		if _, err := c.resolve(ctx, op, ids[:depth]); err != nil {
			if isNotFound(err) {
				return nil, c.createFailed(ids, err)
			}
			return nil, err
		}
	}

	created := doc.Clone()
	if created == nil {
		created = store.Document{}
	}
	created[store.FieldID] = id
	created[store.FieldMeta] = store.NewMeta(c.now())
	if depth > 0 && leaf.BackRefField != "" {
		created[leaf.BackRefField] = ids[depth-1]
	}

	tx, err := c.rs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	tx.Insert(leaf.Collection, created)
	if depth > 0 {
		c.levelRefs(depth-1).stageAdd(tx, ids[depth-1], id)
	}
	if depth > 1 {
		c.levelRefs(depth-2).stageCheck(tx, ids[depth-2], ids[depth-1])
	}

	err = tx.Commit(ctx)
	recordTx(op, err)
	if err != nil {
		c.logger.Debug("create rolled back", "ids", ids, "error", err)
		return nil, c.createFailed(ids, err)
	}

	c.logger.Debug("resource created", "collection", leaf.Collection, "ids", ids)
	c.notify(ctx, Event{Kind: EventCreated, IDs: ids, After: created.Clone()})
	return created, nil
}

// DeleteOption configures Delete.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	orphanProtect bool
}

// WithOrphanProtect refuses to delete a resource whose children set is not
// empty, failing with ErrHasChildren.
func WithOrphanProtect() DeleteOption {
	return func(o *deleteOptions) {
		o.orphanProtect = true
	}
}

// Delete unlinks the leaf from its parent and removes it, in one
// transaction. Fails with ErrNotFound if the leaf isn't reachable.
func (c *Coordinator) Delete(ctx context.Context, ids []string, opts ...DeleteOption) error {
	const op = "delete"
	if err := c.path.checkItem(op, ids); err != nil {
		return err
	}
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}

	docs, err := c.resolve(ctx, op, ids)
	if err != nil {
		return err
	}
	leaf := c.path.Leaf()
	depth := c.path.Depth()
	id := ids[depth]
	before := docs[depth]

	protect := o.orphanProtect && leaf.ChildrenField != ""
	if protect && len(before.StringSet(leaf.ChildrenField)) > 0 {
		return &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: ErrHasChildren}
	}

	tx, err := c.rs.Begin(ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		c.levelRefs(depth-1).stageRemove(tx, ids[depth-1], id)
	}
	var txOpts []store.TxOption
	if protect {
		txOpts = append(txOpts, store.RequireEmpty(leaf.ChildrenField))
	}
	tx.Delete(leaf.Collection, id, txOpts...)

	err = tx.Commit(ctx)
	recordTx(op, err)
	if err != nil {
		return c.deleteFailed(ctx, ids, protect, err)
	}

	c.logger.Debug("resource deleted", "collection", leaf.Collection, "ids", ids)
	c.notify(ctx, Event{Kind: EventDeleted, IDs: ids, Before: before})
	return nil
}

// Update applies u to the leaf and refreshes its updated_at timestamp. The
// parent's membership is re-checked inside the transaction. Returns the
// document as stored after the update.
func (c *Coordinator) Update(ctx context.Context, ids []string, u store.Update) (store.Document, error) {
	const op = "update"
	if err := c.path.checkItem(op, ids); err != nil {
		return nil, err
	}
	leaf := c.path.Leaf()
	depth := c.path.Depth()
	id := ids[depth]

	raw, err := store.AsRaw(u)
	if err != nil {
		return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: err}
	}
	for _, field := range raw.Fields() {
		if c.path.managed(store.TopLevel(field)) {
			return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: fmt.Errorf("%w: %s", ErrManagedField, field)}
		}
	}

	docs, err := c.resolve(ctx, op, ids)
	if err != nil {
		return nil, err
	}
	before := docs[depth]

	ts := store.Timestamp(c.now())
	if _, ok := before[store.FieldMeta].(map[string]any); ok {
		raw = raw.With(store.OpSet, store.FieldMeta+"."+store.FieldUpdatedAt, ts)
	} else {
		// Documents written outside the coordinator may lack _meta_data;
		// nested paths can't be set through a missing map.
		raw = raw.With(store.OpSet, store.FieldMeta, map[string]any{store.FieldUpdatedAt: ts})
	}

	tx, err := c.rs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if depth > 0 {
		c.levelRefs(depth-1).stageCheck(tx, ids[depth-1], id)
	}
	tx.Update(leaf.Collection, id, raw)

	err = tx.Commit(ctx)
	recordTx(op, err)
	if err != nil {
		if te, ok := store.AsTxError(err); ok && te.ConditionFailed() {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: err}
	}

	after, err := c.rs.Get(ctx, leaf.Collection, id)
	if err != nil {
		return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: err}
	}

	c.logger.Debug("resource updated", "collection", leaf.Collection, "ids", ids)
	c.notify(ctx, Event{Kind: EventUpdated, IDs: ids, Before: before, After: after.Clone()})
	return after, nil
}

// Get returns the leaf if every ancestor exists and lists the next id.
func (c *Coordinator) Get(ctx context.Context, ids []string) (store.Document, error) {
	if err := c.path.checkItem("get", ids); err != nil {
		return nil, err
	}
	docs, err := c.resolve(ctx, "get", ids)
	if err != nil {
		return nil, err
	}
	return docs[len(docs)-1], nil
}

// GetAll returns the children of the parent named by ids, sorted by id.
// On a single-level path ids is empty and every root document is returned.
func (c *Coordinator) GetAll(ctx context.Context, ids []string) ([]store.Document, error) {
	if err := c.path.checkCollection("get all", ids); err != nil {
		return nil, err
	}
	return c.children(ctx, "get all", ids)
}

// Find is GetAll restricted to documents matching filter.
func (c *Coordinator) Find(ctx context.Context, ids []string, filter Filter) ([]store.Document, error) {
	if err := c.path.checkCollection("find", ids); err != nil {
		return nil, err
	}
	docs, err := c.children(ctx, "find", ids)
	if err != nil || filter == nil {
		return docs, err
	}

	out := docs[:0]
	for _, doc := range docs {
		ok, err := filter.Matches(doc)
		if err != nil {
			return nil, &ResourceError{Op: "find", Collection: c.path.Leaf().Collection, IDs: ids, Err: err}
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *Coordinator) children(ctx context.Context, op string, ids []string) ([]store.Document, error) {
	leaf := c.path.Leaf()
	depth := c.path.Depth()

	var docs []store.Document
	if depth == 0 {
		all, err := c.rs.List(ctx, leaf.Collection)
		if err != nil {
			return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: err}
		}
		docs = all
	} else {
		ancestors, err := c.resolve(ctx, op, ids)
		if err != nil {
			return nil, err
		}
		parentID := ids[depth-1]
		childIDs := ancestors[depth-1].StringSet(c.path.Levels[depth-1].ChildrenField)
		if len(childIDs) == 0 {
			return []store.Document{}, nil
		}
		found, err := c.rs.GetMany(ctx, leaf.Collection, childIDs)
		if err != nil {
			return nil, &ResourceError{Op: op, Collection: leaf.Collection, IDs: ids, Err: err}
		}
		docs = make([]store.Document, 0, len(found))
		for _, doc := range found {
			if leaf.BackRefField != "" && doc.String(leaf.BackRefField) != parentID {
				continue
			}
			docs = append(docs, doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

// resolve reads the documents named by ids in one snapshot and checks that
// each ancestor lists the next id, and that back-references agree.
func (c *Coordinator) resolve(ctx context.Context, op string, ids []string) ([]store.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := c.rs.GetPath(ctx, c.path.refs(ids))
	if err != nil {
		return nil, &ResourceError{Op: op, Collection: c.path.Levels[len(ids)-1].Collection, IDs: ids, Err: err}
	}

	for i, doc := range docs {
		level := c.path.Levels[i]
		if doc == nil {
			return nil, c.notFound(op, ids, i)
		}
		if i == 0 {
			continue
		}
		if !docs[i-1].HasMember(c.path.Levels[i-1].ChildrenField, ids[i]) {
			return nil, c.notFound(op, ids, i)
		}
		if level.BackRefField != "" && doc.String(level.BackRefField) != ids[i-1] {
			return nil, c.notFound(op, ids, i)
		}
	}
	return docs, nil
}

func (c *Coordinator) notFound(op string, ids []string, level int) error {
	return &ResourceError{
		Op:         op,
		Collection: c.path.Levels[level].Collection,
		IDs:        ids,
		Err:        fmt.Errorf("%w: %s not reachable", ErrNotFound, ids[level]),
	}
}

func (c *Coordinator) createFailed(ids []string, err error) error {
	var rerr *ResourceError
	if errors.As(err, &rerr) {
		err = rerr.Err
	}
	return &ResourceError{
		Op:         "create",
		Collection: c.path.Leaf().Collection,
		IDs:        ids,
		Err:        fmt.Errorf("%w: %w", ErrCreateFailed, err),
	}
}

// deleteFailed explains a rolled back delete. A failed precondition means
// the resource vanished, left its parent, or gained children meanwhile.
func (c *Coordinator) deleteFailed(ctx context.Context, ids []string, protect bool, err error) error {
	leaf := c.path.Leaf()
	te, ok := store.AsTxError(err)
	if !ok || !te.ConditionFailed() {
		return &ResourceError{Op: "delete", Collection: leaf.Collection, IDs: ids, Err: err}
	}
	if protect {
		cur, getErr := c.rs.Get(ctx, leaf.Collection, ids[len(ids)-1])
		if getErr == nil && len(cur.StringSet(leaf.ChildrenField)) > 0 {
			return &ResourceError{Op: "delete", Collection: leaf.Collection, IDs: ids, Err: fmt.Errorf("%w: %w", ErrHasChildren, err)}
		}
	}
	return &ResourceError{Op: "delete", Collection: leaf.Collection, IDs: ids, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
}

func (c *Coordinator) levelRefs(level int) *References {
	l := c.path.Levels[level]
	return NewReferences(c.rs, l.Collection, l.ChildrenField)
}

func (c *Coordinator) notify(ctx context.Context, e Event) {
	if len(c.observers) == 0 {
		return
	}
	e.Path = c.path.Name
	e.Collection = c.path.Leaf().Collection
	e.At = c.now()
	Notify(context.WithoutCancel(ctx), c.logger, c.observers, e)
}
