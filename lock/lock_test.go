package lock_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/lock"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/store/memstore"
)

func newManager(t *testing.T, opts ...memstore.Option) (*lock.Manager, *memstore.Store) {
	t.Helper()
	ms := memstore.New(opts...)
	return lock.New(ms, lock.DefaultConfig()), ms
}

func TestStore_Lock_ConcurrentExactlyOneWins(t *testing.T) {
	ms := memstore.New(memstore.WithLatency(5 * time.Millisecond))
	ls := lock.NewStore(ms, lock.DefaultConfig())
	ids := []string{"tenant-1", "invoice-42"}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ls.Lock(context.Background(), ids)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, lock.ErrAlreadyLocked):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
}

func TestStore_Lock_Document(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }
	ms := memstore.New(memstore.WithClock(clock))
	ls := lock.NewStore(ms, lock.Config{LockTTL: time.Minute}, lock.WithClock(clock), lock.WithHolder("worker-7"))

	if err := ls.Lock(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	docs := ms.Dump("arbor_locks")
	if len(docs) != 1 {
		t.Fatalf("expected 1 lock document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.ID() != keys.Composite([]string{"a", "b"}) {
		t.Errorf("expected id %q, got %q", keys.Composite([]string{"a", "b"}), doc.ID())
	}
	if doc.String(lock.FieldHolder) != "worker-7" {
		t.Errorf("expected holder worker-7, got %q", doc.String(lock.FieldHolder))
	}
	if doc.String(lock.FieldLockedAt) != store.Timestamp(at) {
		t.Errorf("expected locked_at %q, got %q", store.Timestamp(at), doc.String(lock.FieldLockedAt))
	}
	ttl, ok := store.TTL(doc)
	if !ok || ttl != at.Add(time.Minute).Unix() {
		t.Errorf("expected ttl %d, got %d (ok=%v)", at.Add(time.Minute).Unix(), ttl, ok)
	}
}

func TestStore_Lock_DistinctKeys(t *testing.T) {
	ls := lock.NewStore(memstore.New(), lock.DefaultConfig())
	ctx := context.Background()

	if err := ls.Lock(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("Lock a,b failed: %v", err)
	}
	if err := ls.Lock(ctx, []string{"b", "a"}); err != nil {
		t.Errorf("expected b,a to be a different lock, got %v", err)
	}
	if err := ls.Lock(ctx, []string{"a#b"}); err != nil {
		t.Errorf("expected a#b to be a different lock, got %v", err)
	}
}

func TestStore_Lock_ExpiredLockIsFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ms := memstore.New(memstore.WithClock(clock))
	ls := lock.NewStore(ms, lock.Config{LockTTL: time.Minute}, lock.WithClock(clock))
	ctx := context.Background()
	ids := []string{"job"}

	if err := ls.Lock(ctx, ids); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := ls.Lock(ctx, ids); !errors.Is(err, lock.ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	now = now.Add(2 * time.Minute)

	locked, err := ls.IsLocked(ctx, ids)
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Error("expected expired lock to read as unlocked")
	}
	if err := ls.Lock(ctx, ids); err != nil {
		t.Errorf("expected lock after expiry to succeed, got %v", err)
	}
}

func TestStore_Lock_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		fault      error
		wantLocked bool
	}{
		{"already exists message", errors.New("document already exists"), true},
		{"duplicate key message", errors.New("E11000 duplicate key error collection: locks"), true},
		{"wrapped sentinel", fmt.Errorf("put: %w", store.ErrAlreadyExists), true},
		{"other failure", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := memstore.New(memstore.WithFault(func(store.TxOp) error { return tt.fault }))
			ls := lock.NewStore(ms, lock.DefaultConfig())

			err := ls.Lock(context.Background(), []string{"x"})
			if got := errors.Is(err, lock.ErrAlreadyLocked); got != tt.wantLocked {
				t.Errorf("expected ErrAlreadyLocked=%v, got %v (%v)", tt.wantLocked, got, err)
			}
			if !tt.wantLocked && err != tt.fault {
				t.Errorf("expected error returned unmodified, got %v", err)
			}
		})
	}
}

func TestStore_Unlock(t *testing.T) {
	ls := lock.NewStore(memstore.New(), lock.DefaultConfig())
	ctx := context.Background()
	ids := []string{"a"}

	err := ls.Unlock(ctx, ids)
	if !errors.Is(err, lock.ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
	var lerr *lock.Error
	if !errors.As(err, &lerr) || lerr.Op != "unlock" || lerr.Key != "a" {
		t.Errorf("expected *lock.Error for unlock of key a, got %#v", err)
	}

	if err := ls.Lock(ctx, ids); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := ls.Unlock(ctx, ids); err != nil {
		t.Errorf("Unlock failed: %v", err)
	}
	if err := ls.Lock(ctx, ids); err != nil {
		t.Errorf("expected relock after unlock, got %v", err)
	}
}

func TestStore_Release(t *testing.T) {
	ms := memstore.New()
	owner := lock.NewStore(ms, lock.DefaultConfig(), lock.WithHolder("h1"))
	other := lock.NewStore(ms, lock.DefaultConfig(), lock.WithHolder("h2"))
	ctx := context.Background()
	ids := []string{"a"}

	if err := owner.Lock(ctx, ids); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	err := other.Release(ctx, ids)
	if !errors.Is(err, lock.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if !strings.Contains(err.Error(), "h1") {
		t.Errorf("expected error to name holder h1, got %q", err)
	}
	if locked, _ := owner.IsLocked(ctx, ids); !locked {
		t.Error("expected lock to survive release by another holder")
	}

	if err := owner.Release(ctx, ids); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if err := owner.Release(ctx, ids); !errors.Is(err, lock.ErrNotLocked) {
		t.Errorf("expected ErrNotLocked, got %v", err)
	}
}

func TestStore_NoResources(t *testing.T) {
	ms := memstore.New()
	ls := lock.NewStore(ms, lock.DefaultConfig())
	ctx := context.Background()

	if err := ls.Lock(ctx, nil); !errors.Is(err, lock.ErrNoResources) {
		t.Errorf("Lock: expected ErrNoResources, got %v", err)
	}
	if err := ls.Unlock(ctx, []string{}); !errors.Is(err, lock.ErrNoResources) {
		t.Errorf("Unlock: expected ErrNoResources, got %v", err)
	}
	if ms.Calls() != 0 {
		t.Errorf("expected no store calls, got %d", ms.Calls())
	}
}

func TestDoWhileLocked_Completes(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	ids := []string{"a"}

	var states []lock.State
	ran := false
	err := m.DoWhileLocked(ctx, ids, func(ctx context.Context) error {
		locked, err := m.IsLocked(ctx, ids)
		if err != nil {
			return err
		}
		ran = locked
		return nil
	}, lock.Options{OnState: func(s lock.State) { states = append(states, s) }})
	if err != nil {
		t.Fatalf("DoWhileLocked failed: %v", err)
	}
	if !ran {
		t.Error("expected critical section to run while locked")
	}

	locked, _ := m.IsLocked(ctx, ids)
	if locked {
		t.Error("expected lock released after completion")
	}

	want := []lock.State{lock.StateAcquiring, lock.StateHeld, lock.StateCompleted, lock.StateReleased}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
}

func TestDoWhileLocked_ReturnsSectionError(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	ids := []string{"a"}
	errBoom := errors.New("boom")

	var last lock.State
	err := m.DoWhileLocked(ctx, ids, func(context.Context) error {
		return errBoom
	}, lock.Options{OnState: func(s lock.State) { last = s }})
	if err != errBoom {
		t.Errorf("expected section error returned as is, got %v", err)
	}
	if last != lock.StateReleased {
		t.Errorf("expected final state RELEASED, got %s", last)
	}
	if locked, _ := m.IsLocked(ctx, ids); locked {
		t.Error("expected lock released after failure")
	}
}

func TestDoWhileLocked_RecoversPanic(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	ids := []string{"a"}

	err := m.DoWhileLocked(ctx, ids, func(context.Context) error {
		panic("section exploded")
	}, lock.Options{})
	if err == nil || !strings.Contains(err.Error(), "section exploded") {
		t.Errorf("expected panic surfaced as error, got %v", err)
	}
	if locked, _ := m.IsLocked(ctx, ids); locked {
		t.Error("expected lock released after panic")
	}
}

func TestDoWhileLocked_Interrupted(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	ids := []string{"slow"}

	var states []lock.State
	start := time.Now()
	err := m.DoWhileLocked(ctx, ids, func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	}, lock.Options{
		LockTimeout: 250 * time.Millisecond,
		OnState:     func(s lock.State) { states = append(states, s) },
	})
	elapsed := time.Since(start)

	if !errors.Is(err, lock.ErrLockInterrupted) {
		t.Fatalf("expected ErrLockInterrupted, got %v", err)
	}
	if elapsed < 250*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("expected interruption in 250-400ms, got %s", elapsed)
	}
	if err := m.Lock(ctx, ids); err != nil {
		t.Errorf("expected lock free after interruption, got %v", err)
	}

	want := []lock.State{lock.StateAcquiring, lock.StateHeld, lock.StateTimedOut, lock.StateReleased}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
}

func TestDoWhileLocked_SerializesHolders(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	ids := []string{"shared"}
	opts := lock.Options{RetryInterval: 10 * time.Millisecond}

	var (
		mu     sync.Mutex
		aEnd   time.Time
		bStart time.Time
	)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := m.DoWhileLocked(ctx, ids, func(context.Context) error {
			time.Sleep(500 * time.Millisecond)
			mu.Lock()
			aEnd = time.Now()
			mu.Unlock()
			return nil
		}, opts)
		if err != nil {
			t.Errorf("A failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		err := m.DoWhileLocked(ctx, ids, func(context.Context) error {
			mu.Lock()
			bStart = time.Now()
			mu.Unlock()
			return nil
		}, opts)
		if err != nil {
			t.Errorf("B failed: %v", err)
		}
	}()
	wg.Wait()
	total := time.Since(start)

	if bStart.Before(aEnd) {
		t.Errorf("expected B to start after A finished (A end %s, B start %s)", aEnd, bStart)
	}
	if total < 500*time.Millisecond || total > 700*time.Millisecond {
		t.Errorf("expected total 500-700ms, got %s", total)
	}
}

func TestDoWhileLocked_AcquisitionTimeout(t *testing.T) {
	m, ms := newManager(t)
	ctx := context.Background()
	ids := []string{"busy"}

	if err := m.Lock(ctx, ids); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	ms.ResetCalls()

	var states []lock.State
	ran := false
	start := time.Now()
	err := m.DoWhileLocked(ctx, ids, func(context.Context) error {
		ran = true
		return nil
	}, lock.Options{
		WaitTimeout:   100 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		OnState:       func(s lock.State) { states = append(states, s) },
	})
	elapsed := time.Since(start)

	if !errors.Is(err, lock.ErrLockAcquisitionTimeout) {
		t.Fatalf("expected ErrLockAcquisitionTimeout, got %v", err)
	}
	if ran {
		t.Error("expected critical section not to run")
	}
	if elapsed < 100*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("expected timeout near 100ms, got %s", elapsed)
	}
	if ms.Calls() < 3 {
		t.Errorf("expected several attempts, got %d store calls", ms.Calls())
	}

	want := []lock.State{lock.StateAcquiring, lock.StateFailed, lock.StateReleased}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
	if locked, _ := m.IsLocked(ctx, ids); !locked {
		t.Error("expected the other holder's lock to be untouched")
	}
}

func TestDoWhileLocked_ContextCancelledWhileWaiting(t *testing.T) {
	m, _ := newManager(t)
	ids := []string{"busy"}
	if err := m.Lock(context.Background(), ids); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.DoWhileLocked(ctx, ids, func(context.Context) error { return nil }, lock.Options{
		RetryInterval: 10 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestDoWhileLocked_LockReapedDuringSection(t *testing.T) {
	m, ms := newManager(t)
	ctx := context.Background()
	ids := []string{"a"}

	err := m.DoWhileLocked(ctx, ids, func(ctx context.Context) error {
		// Simulate the ttl reaper removing the lock mid-section.
		_, err := ms.Delete(ctx, "arbor_locks", "a")
		return err
	}, lock.Options{})
	if err != nil {
		t.Errorf("expected missing lock at release to be tolerated, got %v", err)
	}
}

func TestDoWhileLocked_RejectsTimeoutBeyondTTL(t *testing.T) {
	ms := memstore.New()
	m := lock.New(ms, lock.Config{LockTTL: time.Second})

	tests := []struct {
		name string
		opts lock.Options
	}{
		{"default timeout", lock.Options{}},
		{"equal to ttl", lock.Options{LockTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			err := m.DoWhileLocked(context.Background(), []string{"a"}, func(context.Context) error {
				ran = true
				return nil
			}, tt.opts)
			if !errors.Is(err, lock.ErrLockTimeoutExceedsTTL) {
				t.Errorf("expected ErrLockTimeoutExceedsTTL, got %v", err)
			}
			if ran {
				t.Error("expected section not to run")
			}
		})
	}
	if ms.Calls() != 0 {
		t.Errorf("expected no store calls, got %d", ms.Calls())
	}

	err := m.DoWhileLocked(context.Background(), []string{"a"}, func(context.Context) error { return nil },
		lock.Options{LockTimeout: 500 * time.Millisecond})
	if err != nil {
		t.Errorf("expected timeout below ttl to be accepted, got %v", err)
	}
}

func TestDoWhileLocked_ExpiredLockTakenOver(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	ms := memstore.New(memstore.WithClock(clock))
	cfg := lock.Config{LockTTL: time.Minute}
	first := lock.NewManager(lock.NewStore(ms, cfg, lock.WithClock(clock), lock.WithHolder("first")))
	second := lock.NewStore(ms, cfg, lock.WithClock(clock), lock.WithHolder("second"))
	third := lock.NewStore(ms, cfg, lock.WithClock(clock), lock.WithHolder("third"))
	ctx := context.Background()
	ids := []string{"invoice-42"}

	err := first.DoWhileLocked(ctx, ids, func(ctx context.Context) error {
		// The first lock document expires and a second holder takes the key.
		advance(2 * cfg.LockTTL)
		return second.Lock(ctx, ids)
	}, lock.Options{})
	if !errors.Is(err, lock.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}

	if err := third.Lock(ctx, ids); !errors.Is(err, lock.ErrAlreadyLocked) {
		t.Errorf("expected second holder to keep the lock, got %v", err)
	}
	if err := second.Release(ctx, ids); err != nil {
		t.Errorf("expected second holder to release its lock, got %v", err)
	}
}

func TestDoWhileLocked_ReleaseErrorJoined(t *testing.T) {
	m, ms := newManager(t)
	ctx := context.Background()
	errRelease := errors.New("release failed")
	errSection := errors.New("section failed")

	ms.SetFault(func(op store.TxOp) error {
		if op.Kind == store.OpDelete {
			return errRelease
		}
		return nil
	})

	err := m.DoWhileLocked(ctx, []string{"a"}, func(context.Context) error { return nil }, lock.Options{})
	if !errors.Is(err, errRelease) {
		t.Errorf("expected release error, got %v", err)
	}

	err = m.DoWhileLocked(ctx, []string{"b"}, func(context.Context) error { return errSection }, lock.Options{})
	if !errors.Is(err, errSection) || !errors.Is(err, errRelease) {
		t.Errorf("expected both section and release errors, got %v", err)
	}
}

func TestWithLock_ReturnsValue(t *testing.T) {
	m, _ := newManager(t)

	n, err := lock.WithLock(context.Background(), m, []string{"counter"}, func(context.Context) (int, error) {
		return 42, nil
	}, lock.Options{})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}

func TestWithLock_ZeroValueOnError(t *testing.T) {
	m, _ := newManager(t)

	s, err := lock.WithLock(context.Background(), m, []string{"x"}, func(context.Context) (string, error) {
		return "partial", errors.New("failed")
	}, lock.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if s != "" {
		t.Errorf("expected zero value, got %q", s)
	}
}

func ExampleManager_DoWhileLocked() {
	m := lock.New(memstore.New(), lock.DefaultConfig())

	err := m.DoWhileLocked(context.Background(), []string{"tenant-1", "invoice-42"}, func(ctx context.Context) error {
		fmt.Println("settling invoice")
		return nil
	}, lock.Options{LockTimeout: 5 * time.Second})
	if err != nil {
		fmt.Println("error:", err)
	}
	// Output: settling invoice
}
