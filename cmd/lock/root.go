package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/arbor/cmd/util"
	lockmgr "github.com/jacentio/arbor/lock"
)

var (
	manager *lockmgr.Manager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations",
		PersistentPreRunE: setupLockManager,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [id...]",
		Short: "Acquire the lock over a set of resource ids",
		Long:  "Acquire the lock over a set of resource ids. The lock is held until released or until its ttl elapses.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [id...]",
		Short: "Release the lock over a set of resource ids",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRelease,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [id...]",
		Short: "Report whether a set of resource ids is locked",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStatus,
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run --ids a,b -- command [arg...]",
		Short: "Run a command while holding the lock",
		Long: `Acquire the lock over --ids, run the command and release the lock.
If the command outlives --lock-timeout it is killed, the lock is released
and run fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(statusCmd)
	LockCommands.AddCommand(runCmd)

	util.SetupStoreFlags(LockCommands)

	defaults := lockmgr.DefaultOptions()
	runCmd.Flags().StringSlice("ids", nil, util.WrapString("Resource ids to lock, comma separated"))
	runCmd.Flags().Duration("lock-timeout", defaults.LockTimeout, util.WrapString("Maximum time the command may hold the lock"))
	runCmd.Flags().Duration("wait-timeout", defaults.WaitTimeout, util.WrapString("Maximum time to wait for the lock"))
	runCmd.Flags().Duration("retry-interval", defaults.RetryInterval, util.WrapString("Delay between acquisition attempts"))
	_ = runCmd.MarkFlagRequired("ids")
}

// setupLockManager initializes the lock manager
func setupLockManager(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	logger, err := util.GetLogger()
	if err != nil {
		return err
	}
	s, err := util.NewStore(cmd.Context(), logger)
	if err != nil {
		return err
	}

	manager = lockmgr.New(s, lockmgr.Config{
		Collection: viper.GetString("lock-collection"),
		LockTTL:    viper.GetDuration("lock-ttl"),
	}, lockmgr.WithLogger(logger))
	return nil
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key, err := manager.Store().Key(args)
	if err != nil {
		return err
	}

	err = manager.Lock(cmd.Context(), args)
	if errors.Is(err, lockmgr.ErrAlreadyLocked) {
		fmt.Printf("acquired=false, key=%s\n", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("acquired=true, key=%s, holder=%s\n", key, manager.Store().Holder())
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	err := manager.Unlock(cmd.Context(), args)
	if errors.Is(err, lockmgr.ErrNotLocked) {
		fmt.Printf("released=false\n")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=true\n")
	return nil
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	key, err := manager.Store().Key(args)
	if err != nil {
		return err
	}
	locked, err := manager.IsLocked(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}

	fmt.Printf("locked=%v, key=%s\n", locked, key)
	return nil
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	opts := lockmgr.Options{
		LockTimeout:   viper.GetDuration("lock-timeout"),
		WaitTimeout:   viper.GetDuration("wait-timeout"),
		RetryInterval: viper.GetDuration("retry-interval"),
	}

	g := newGuardedCommand(cmd.Context(), args[0], args[1:]...)
	defer g.Close()
	opts.OnState = g.OnState

	start := time.Now()
	err := manager.DoWhileLocked(cmd.Context(), viper.GetStringSlice("ids"), g.Run, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "completed=true, elapsed=%s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// guardedCommand is a child process run as a critical section. It is killed
// when the lock times out, before the lock is released.
type guardedCommand struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
}

func newGuardedCommand(ctx context.Context, name string, args ...string) *guardedCommand {
	procCtx, cancel := context.WithCancel(ctx)
	c := exec.CommandContext(procCtx, name, args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return &guardedCommand{cmd: c, cancel: cancel, exited: make(chan struct{})}
}

// Run starts the command and waits for it to exit.
func (g *guardedCommand) Run(context.Context) error {
	defer close(g.exited)
	return g.cmd.Run()
}

// OnState kills the command on StateTimedOut and waits for it to exit.
func (g *guardedCommand) OnState(s lockmgr.State) {
	if s == lockmgr.StateTimedOut {
		g.cancel()
		<-g.exited
	}
}

// Close kills the command if it is still running.
func (g *guardedCommand) Close() {
	g.cancel()
}
