package lock

import "time"

// Config holds configuration for the lock store.
type Config struct {
	// Collection is the collection (table) holding lock documents.
	// Default: "arbor_locks"
	Collection string

	// LockTTL is how long a lock document lives before the database reaps it,
	// whether or not it was released. It bounds how long a crashed holder can
	// block others.
	// Default: 5m
	// Min: 1s
	LockTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection: "arbor_locks",
		LockTTL:    5 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Collection == "" {
		c.Collection = "arbor_locks"
	}
	if c.LockTTL == 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.LockTTL < time.Second {
		c.LockTTL = time.Second
	}
}

// Options tune a single DoWhileLocked call. Zero fields take the defaults
// from DefaultOptions.
type Options struct {
	// LockTimeout bounds how long the critical section may hold the lock.
	// When it elapses the lock is released and the call fails with
	// ErrLockInterrupted. Default: 30s
	LockTimeout time.Duration

	// WaitTimeout bounds lock acquisition. Default: 10s
	WaitTimeout time.Duration

	// RetryInterval is the delay between acquisition attempts. Default: 100ms
	RetryInterval time.Duration

	// Backoff multiplies RetryInterval after each failed attempt.
	// Values <= 1 keep the interval fixed. Default: 1
	Backoff float64

	// MaxRetryInterval caps a growing RetryInterval. Default: no cap
	MaxRetryInterval time.Duration

	// OnState, if set, is called on every state transition.
	OnState func(State)
}

// DefaultOptions returns the defaults applied to zero-valued Options fields.
func DefaultOptions() Options {
	return Options{
		LockTimeout:   30 * time.Second,
		WaitTimeout:   10 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		Backoff:       1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LockTimeout <= 0 {
		o.LockTimeout = d.LockTimeout
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.Backoff <= 0 {
		o.Backoff = d.Backoff
	}
	return o
}
