package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

// Lock document fields.
const (
	FieldLockedAt = "locked_at"
	FieldHolder   = "holder"
	FieldIDs      = "resource_ids"
)

// Store persists lock documents, one per composite key, in a single
// collection. It holds no in-process state beyond its holder id: mutual
// exclusion comes entirely from the database's unique insert.
type Store struct {
	rs     store.ResourceStore
	config Config
	holder string
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source for locked_at and ttl.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithHolder sets the holder id. Default: a random UUID per Store.
func WithHolder(holder string) StoreOption {
	return func(s *Store) {
		if holder != "" {
			s.holder = holder
		}
	}
}

// NewStore creates a lock store over rs.
func NewStore(rs store.ResourceStore, config Config, opts ...StoreOption) *Store {
	config.validate()
	s := &Store{
		rs:     rs,
		config: config,
		holder: uuid.NewString(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Holder returns the id written into every lock document this store creates.
// Release only deletes documents carrying it.
func (s *Store) Holder() string {
	return s.holder
}

// Key returns the composite key for ids.
func (s *Store) Key(ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrNoResources
	}
	return keys.Composite(ids), nil
}

// Lock atomically creates the lock document for ids. It fails with
// ErrAlreadyLocked if a live lock exists; other store errors are returned
// unmodified.
func (s *Store) Lock(ctx context.Context, ids []string) error {
	key, err := s.Key(ids)
	if err != nil {
		return err
	}

	now := s.now()
	doc := store.Document{
		store.FieldID:  key,
		FieldLockedAt:  store.Timestamp(now),
		FieldHolder:    s.holder,
		FieldIDs:       append([]string(nil), ids...),
		store.FieldTTL: store.ExpiresAt(now, s.config.LockTTL),
	}

	err = s.rs.Insert(ctx, s.config.Collection, doc)
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return &Error{Op: "lock", Key: key, IDs: ids, Err: ErrAlreadyLocked}
	}
	return err
}

// Unlock deletes the lock document for ids whoever holds it. It fails with
// ErrNotLocked if no live lock exists.
func (s *Store) Unlock(ctx context.Context, ids []string) error {
	key, err := s.Key(ids)
	if err != nil {
		return err
	}
	n, err := s.rs.Delete(ctx, s.config.Collection, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return &Error{Op: "unlock", Key: key, IDs: ids, Err: ErrNotLocked}
	}
	return nil
}

// Release deletes the lock document for ids only while this store's holder
// owns it. It fails with ErrNotLocked if no live lock exists and with
// ErrNotHolder if another holder took the key over.
func (s *Store) Release(ctx context.Context, ids []string) error {
	key, err := s.Key(ids)
	if err != nil {
		return err
	}

	tx, err := s.rs.Begin(ctx)
	if err != nil {
		return err
	}
	tx.Delete(s.config.Collection, key, store.RequireValue(FieldHolder, s.holder))
	err = tx.Commit(ctx)
	if err == nil {
		return nil
	}
	if te, ok := store.AsTxError(err); !ok || !te.ConditionFailed() {
		return err
	}

	doc, err := s.rs.Get(ctx, s.config.Collection, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Op: "release", Key: key, IDs: ids, Err: ErrNotLocked}
	case err != nil:
		return err
	}
	return &Error{Op: "release", Key: key, IDs: ids, Err: fmt.Errorf("%w: %s", ErrNotHolder, doc.String(FieldHolder))}
}

// IsLocked reports whether a live lock document exists for ids.
func (s *Store) IsLocked(ctx context.Context, ids []string) (bool, error) {
	key, err := s.Key(ids)
	if err != nil {
		return false, err
	}
	_, err = s.rs.Get(ctx, s.config.Collection, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, err
}

// isDuplicate recognises a uniqueness violation, including ones surfaced by
// stores that only report it in the message.
func isDuplicate(err error) bool {
	if errors.Is(err, store.ErrAlreadyExists) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key")
}
