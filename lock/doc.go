// Package lock implements a distributed mutual-exclusion lock on top of a
// store.ResourceStore.
//
// A lock is a document whose id is the composite key of the locked
// resource ids. Acquiring is an atomic insert; releasing is a delete; the
// document carries a ttl so a crashed holder cannot block others forever.
//
// # Critical sections
//
// DoWhileLocked and WithLock wrap acquisition, execution and release:
//
//	m := lock.New(rs, lock.DefaultConfig())
//	err := m.DoWhileLocked(ctx, []string{"tenant-1", "invoice-42"}, func(ctx context.Context) error {
//	    return settle(ctx)
//	}, lock.Options{LockTimeout: 5 * time.Second})
//
// Cancellation is not preemptive: when LockTimeout elapses the lock is
// released and ErrLockInterrupted returned, but the critical section is
// not stopped. Work that must not overlap another holder should check its
// own deadline.
//
// # Errors
//
// Failures wrap one of the package sentinels in *Error, so both forms work:
//
//	if errors.Is(err, lock.ErrLockAcquisitionTimeout) { ... }
//
//	var lerr *lock.Error
//	if errors.As(err, &lerr) { log.Println(lerr.Key) }
package lock
