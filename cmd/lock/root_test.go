package lock

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	lockmgr "github.com/jacentio/arbor/lock"
	"github.com/jacentio/arbor/store/memstore"
)

func TestGuardedCommand_KilledBeforeRelease(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	m := lockmgr.New(memstore.New(), lockmgr.DefaultConfig())
	ctx := context.Background()
	ids := []string{"job"}

	g := newGuardedCommand(ctx, "sleep", "5")
	defer g.Close()

	var exitedAtRelease bool
	opts := lockmgr.Options{
		LockTimeout: 100 * time.Millisecond,
		OnState: func(s lockmgr.State) {
			g.OnState(s)
			if s == lockmgr.StateReleased {
				select {
				case <-g.exited:
					exitedAtRelease = true
				default:
				}
			}
		},
	}

	start := time.Now()
	err := m.DoWhileLocked(ctx, ids, g.Run, opts)
	if !errors.Is(err, lockmgr.ErrLockInterrupted) {
		t.Fatalf("expected ErrLockInterrupted, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected the command to be killed, took %v", elapsed)
	}
	if !exitedAtRelease {
		t.Error("expected the command to exit before the lock was released")
	}
	if g.cmd.ProcessState == nil {
		t.Error("expected the command to have been waited on")
	}
}

func TestGuardedCommand_Completes(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	m := lockmgr.New(memstore.New(), lockmgr.DefaultConfig())
	g := newGuardedCommand(context.Background(), "true")
	defer g.Close()

	if err := m.DoWhileLocked(context.Background(), []string{"job"}, g.Run, lockmgr.Options{OnState: g.OnState}); err != nil {
		t.Errorf("expected command to complete, got %v", err)
	}
}
