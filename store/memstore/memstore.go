// Package memstore is an in-process implementation of store.ResourceStore.
//
// It honours the same contract as the DynamoDB adapter: atomic unique
// inserts, matched-count deletes, all-or-nothing transactions with
// per-operation preconditions, snapshot path reads, and ttl expiry. It also
// offers fault injection and a call counter so tests can force failures at
// a chosen transaction step and assert that no I/O happened.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jacentio/arbor/store"
)

// FaultFunc is consulted before each write operation is applied. A non-nil
// return fails the operation (and aborts its transaction).
type FaultFunc func(op store.TxOp) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for ttl expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithFault installs a fault hook at construction time.
func WithFault(f FaultFunc) Option {
	return func(s *Store) {
		s.fault = f
	}
}

// WithLatency delays every call by d, outside the store's mutex, to widen
// race windows in concurrency tests.
func WithLatency(d time.Duration) Option {
	return func(s *Store) {
		s.latency = d
	}
}

// Store is an in-memory document engine.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]store.Document
	now         func() time.Time
	fault       FaultFunc
	latency     time.Duration
	calls       *xsync.Counter
}

var _ store.ResourceStore = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]store.Document),
		now:         time.Now,
		calls:       xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the fault hook; nil clears it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Calls returns the number of ResourceStore calls made so far.
func (s *Store) Calls() int64 {
	return s.calls.Value()
}

// ResetCalls zeroes the call counter.
func (s *Store) ResetCalls() {
	s.calls.Reset()
}

// Seed writes documents without preconditions and without counting a call.
func (s *Store) Seed(collection string, docs ...store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.table(collection)[doc.ID()] = doc.Clone()
	}
}

// Dump returns copies of every live document in collection, sorted by id,
// without counting a call.
func (s *Store) Dump(collection string) []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(collection)
}

// Insert implements store.ResourceStore.
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	if doc.ID() == "" {
		return fmt.Errorf("insert %s: document has no id", collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op := store.TxOp{Kind: store.OpInsert, Collection: collection, ID: doc.ID(), Doc: doc}
	if err := s.checkFault(op); err != nil {
		return err
	}
	if s.live(collection, doc.ID()) != nil {
		return fmt.Errorf("insert %s: %w", op.Ref(), store.ErrAlreadyExists)
	}
	s.table(collection)[doc.ID()] = doc.Clone()
	return nil
}

// Get implements store.ResourceStore.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.live(collection, id)
	if doc == nil {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

// GetMany implements store.ResourceStore.
func (s *Store) GetMany(ctx context.Context, collection string, ids []string) ([]store.Document, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]store.Document, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if doc := s.live(collection, id); doc != nil {
			docs = append(docs, doc.Clone())
		}
	}
	return docs, nil
}

// GetPath implements store.ResourceStore.
func (s *Store) GetPath(ctx context.Context, refs []store.Ref) ([]store.Document, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]store.Document, len(refs))
	for i, ref := range refs {
		if doc := s.live(ref.Collection, ref.ID); doc != nil {
			docs[i] = doc.Clone()
		}
	}
	return docs, nil
}

// List implements store.ResourceStore.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(collection), nil
}

// Delete implements store.ResourceStore.
func (s *Store) Delete(ctx context.Context, collection, id string) (int64, error) {
	if err := s.enter(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(store.TxOp{Kind: store.OpDelete, Collection: collection, ID: id}); err != nil {
		return 0, err
	}
	if s.live(collection, id) == nil {
		return 0, nil
	}
	delete(s.table(collection), id)
	return 1, nil
}

// Begin implements store.ResourceStore.
func (s *Store) Begin(ctx context.Context) (*store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.NewTx(s.commit), nil
}

func (s *Store) commit(ctx context.Context, ops []store.TxOp) error {
	if err := s.enter(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type write struct {
		ref store.Ref
		doc store.Document // nil deletes
	}
	writes := make([]write, 0, len(ops))

	for i, op := range ops {
		if err := s.checkFault(op); err != nil {
			return &store.TxError{Index: i, Op: op, Reason: store.ReasonFault, Err: err}
		}
		next, changed, err := s.evaluate(op)
		if err != nil {
			return &store.TxError{Index: i, Op: op, Reason: store.ReasonConditionFailed, Err: err}
		}
		if changed {
			writes = append(writes, write{ref: op.Ref(), doc: next})
		}
	}

	for _, w := range writes {
		if w.doc == nil {
			delete(s.table(w.ref.Collection), w.ref.ID)
			continue
		}
		s.table(w.ref.Collection)[w.ref.ID] = w.doc
	}
	return nil
}

// evaluate checks op's precondition against current state and returns the
// resulting document. A nil document with changed=true is a delete.
func (s *Store) evaluate(op store.TxOp) (store.Document, bool, error) {
	cur := s.live(op.Collection, op.ID)

	if op.Kind == store.OpInsert {
		if cur != nil {
			return nil, false, store.ErrAlreadyExists
		}
		return op.Doc.Clone(), true, nil
	}

	if cur == nil {
		return nil, false, store.ErrNotFound
	}

	switch op.Kind {
	case store.OpUpdate:
		next := cur.Clone()
		if err := applyRaw(next, op.Update); err != nil {
			return nil, false, err
		}
		return next, true, nil

	case store.OpDelete:
		if op.RequireEmpty != "" && len(cur.StringSet(op.RequireEmpty)) > 0 {
			return nil, false, fmt.Errorf("%s is not empty", op.RequireEmpty)
		}
		if op.MatchField != "" && cur.String(op.MatchField) != op.MatchValue {
			return nil, false, fmt.Errorf("%s is not %q", op.MatchField, op.MatchValue)
		}
		return nil, true, nil

	case store.OpAddToSet:
		next := cur.Clone()
		next[op.Field] = union(next.StringSet(op.Field), []string{op.Value})
		return next, true, nil

	case store.OpRemoveFromSet:
		if !cur.HasMember(op.Field, op.Value) {
			return nil, false, fmt.Errorf("%s does not contain %q", op.Field, op.Value)
		}
		next := cur.Clone()
		setOrDrop(next, op.Field, difference(next.StringSet(op.Field), []string{op.Value}))
		return next, true, nil

	case store.OpCheck:
		if op.Field != "" && !cur.HasMember(op.Field, op.Value) {
			return nil, false, fmt.Errorf("%s does not contain %q", op.Field, op.Value)
		}
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("unsupported operation %s", op.Kind)
}

// live returns the stored document, purging it if expired. Callers hold mu.
func (s *Store) live(collection, id string) store.Document {
	tbl := s.collections[collection]
	if tbl == nil {
		return nil
	}
	doc, ok := tbl[id]
	if !ok {
		return nil
	}
	if store.IsExpired(doc, s.now()) {
		delete(tbl, id)
		return nil
	}
	return doc
}

func (s *Store) list(collection string) []store.Document {
	tbl := s.collections[collection]
	ids := make([]string, 0, len(tbl))
	for id := range tbl {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		if doc := s.live(collection, id); doc != nil {
			docs = append(docs, doc.Clone())
		}
	}
	return docs
}

func (s *Store) table(collection string) map[string]store.Document {
	tbl, ok := s.collections[collection]
	if !ok {
		tbl = make(map[string]store.Document)
		s.collections[collection] = tbl
	}
	return tbl
}

func (s *Store) checkFault(op store.TxOp) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

// enter counts the call and applies simulated latency.
func (s *Store) enter(ctx context.Context) error {
	s.calls.Inc()
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}
