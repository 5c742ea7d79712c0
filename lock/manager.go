package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/arbor/internal/retry"
	"github.com/jacentio/arbor/store"
)

// Manager runs critical sections under a lock. Each call is independent;
// the manager keeps no per-key state.
type Manager struct {
	store  *Store
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Manager whose lock documents live in rs.
func New(rs store.ResourceStore, config Config, opts ...Option) *Manager {
	return NewManager(NewStore(rs, config), opts...)
}

// NewManager creates a Manager over an existing lock store.
func NewManager(ls *Store, opts ...Option) *Manager {
	m := &Manager{
		store:  ls,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying lock store.
func (m *Manager) Store() *Store {
	return m.store
}

// Lock acquires the lock for ids once, without waiting.
func (m *Manager) Lock(ctx context.Context, ids []string) error {
	return m.store.Lock(ctx, ids)
}

// Unlock releases the lock for ids.
func (m *Manager) Unlock(ctx context.Context, ids []string) error {
	return m.store.Unlock(ctx, ids)
}

// IsLocked reports whether ids are currently locked.
func (m *Manager) IsLocked(ctx context.Context, ids []string) (bool, error) {
	return m.store.IsLocked(ctx, ids)
}

// DoWhileLocked acquires the lock for ids, runs fn and releases the lock.
//
// Acquisition retries every RetryInterval until WaitTimeout, failing with
// ErrLockAcquisitionTimeout. Once held, fn races a LockTimeout watchdog.
// If the watchdog fires first the lock is released and ErrLockInterrupted
// is returned; fn keeps running in the background and its result is
// dropped. The ctx handed to fn is the caller's and is not cancelled by
// the watchdog.
//
// LockTimeout must be shorter than the store's LockTTL, otherwise the call
// fails with ErrLockTimeoutExceedsTTL before acquiring anything.
//
// The lock is released on every path, and only if this manager's holder
// still owns it. A lock that was already reaped by its ttl is logged, not
// reported; one taken over by another holder is reported as ErrNotHolder.
func (m *Manager) DoWhileLocked(ctx context.Context, ids []string, fn func(ctx context.Context) error, opts Options) error {
	_, err := WithLock(ctx, m, ids, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts)
	return err
}

// WithLock is DoWhileLocked for critical sections that produce a value.
func WithLock[T any](ctx context.Context, m *Manager, ids []string, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	opts = opts.withDefaults()
	report := func(s State) {
		if opts.OnState != nil {
			opts.OnState(s)
		}
	}

	key, err := m.store.Key(ids)
	if err != nil {
		return zero, err
	}
	if ttl := m.store.Config().LockTTL; opts.LockTimeout >= ttl {
		return zero, &Error{Op: "run", Key: key, IDs: ids, Err: fmt.Errorf("%w: timeout %s, ttl %s", ErrLockTimeoutExceedsTTL, opts.LockTimeout, ttl)}
	}
	log := m.logger.With("key", key)

	report(StateAcquiring)
	if err := m.acquire(ctx, ids, key, opts, log); err != nil {
		report(StateFailed)
		report(StateReleased)
		return zero, err
	}
	report(StateHeld)
	heldAt := time.Now()

	watchdog := time.NewTimer(opts.LockTimeout)
	defer watchdog.Stop()
	done := retry.Async(func() (T, error) {
		return fn(ctx)
	})

	var value T
	var result error
	select {
	case res := <-done:
		value, result = res.Value, res.Err
		if result != nil {
			report(StateFailed)
		} else {
			report(StateCompleted)
		}
	case <-watchdog.C:
		report(StateTimedOut)
		interruptedTotal.Inc()
		log.Warn("critical section outlived lock timeout, releasing",
			"lockTimeout", opts.LockTimeout,
		)
		result = &Error{Op: "run", Key: key, IDs: ids, Err: ErrLockInterrupted}
	case <-ctx.Done():
		report(StateFailed)
		result = ctx.Err()
	}

	releaseErr := m.release(context.WithoutCancel(ctx), ids, log)
	heldSeconds.UpdateDuration(heldAt)
	report(StateReleased)

	if releaseErr != nil {
		result = errors.Join(result, releaseErr)
	}
	if result != nil {
		return zero, result
	}
	return value, nil
}

func (m *Manager) acquire(ctx context.Context, ids []string, key string, opts Options, log *slog.Logger) error {
	start := time.Now()
	policy := retry.Policy{
		Interval:    opts.RetryInterval,
		Timeout:     opts.WaitTimeout,
		Multiplier:  opts.Backoff,
		MaxInterval: opts.MaxRetryInterval,
	}

	attempts, err := retry.Poll(ctx, policy, func(ctx context.Context) (bool, error) {
		err := m.store.Lock(ctx, ids)
		if errors.Is(err, ErrAlreadyLocked) {
			return false, nil
		}
		return err == nil, err
	})
	attemptsTotal.Add(attempts)

	switch {
	case err == nil:
		acquiredTotal.Inc()
		waitSeconds.UpdateDuration(start)
		log.Debug("lock acquired", "attempts", attempts)
		return nil
	case errors.Is(err, retry.ErrTimeout):
		acquireTimeouts.Inc()
		log.Warn("lock acquisition timed out",
			"attempts", attempts,
			"waitTimeout", opts.WaitTimeout,
		)
		return &Error{Op: "acquire", Key: key, IDs: ids, Err: ErrLockAcquisitionTimeout}
	default:
		acquireErrors.Inc()
		log.Error("lock acquisition failed", "attempts", attempts, "error", err)
		return err
	}
}

func (m *Manager) release(ctx context.Context, ids []string, log *slog.Logger) error {
	err := m.store.Release(ctx, ids)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotLocked):
		log.Warn("lock already gone at release")
		return nil
	default:
		releaseErrors.Inc()
		log.Error("failed to release lock", "error", err)
		return err
	}
}
