package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyLocked is returned when a live lock document already exists for the key.
	ErrAlreadyLocked = errors.New("arbor: resource already locked")

	// ErrNotLocked is returned when unlocking a key that has no lock document.
	ErrNotLocked = errors.New("arbor: resource not locked")

	// ErrLockAcquisitionTimeout is returned when the lock could not be acquired within WaitTimeout.
	ErrLockAcquisitionTimeout = errors.New("arbor: lock acquisition timed out")

	// ErrLockInterrupted is returned when a critical section outlived LockTimeout
	// and its lock was released early.
	ErrLockInterrupted = errors.New("arbor: lock interrupted by timeout")

	// ErrNotHolder is returned when releasing a lock that another holder owns.
	ErrNotHolder = errors.New("arbor: lock held by another holder")

	// ErrLockTimeoutExceedsTTL is returned when Options.LockTimeout is not
	// shorter than Config.LockTTL. The lock document must outlive the watchdog.
	ErrLockTimeoutExceedsTTL = errors.New("arbor: lock timeout must be shorter than the lock ttl")

	// ErrNoResources is returned when no resource ids were given.
	ErrNoResources = errors.New("arbor: lock needs at least one resource id")
)

// Error carries the lock key and resource ids alongside a lock sentinel.
type Error struct {
	Op  string
	Key string
	IDs []string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v: %s key=%q ids=%q", e.Err, e.Op, e.Key, e.IDs)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
