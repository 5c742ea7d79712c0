// Package retry provides the polling and settle-first helpers shared by the
// lock manager and the DynamoDB adapter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned by Poll when the policy's timeout elapses first.
var ErrTimeout = errors.New("retry: timed out")

// errPending marks an attempt that did not finish and should be retried.
var errPending = errors.New("retry: pending")

// Policy controls a polling loop.
type Policy struct {
	// Interval is the delay between attempts.
	Interval time.Duration

	// Timeout bounds the whole loop, measured from the first attempt.
	// Zero means no bound (only ctx ends the loop).
	Timeout time.Duration

	// Multiplier grows Interval after each attempt. Values <= 1 keep it fixed.
	Multiplier float64

	// MaxInterval caps a growing Interval. Zero means no cap.
	MaxInterval time.Duration
}

// BackOff returns the wait schedule for p without jitter: constant when
// Multiplier <= 1, exponential otherwise. With a Timeout the schedule stops
// once it elapses, and the last wait is shortened so a final attempt lands
// on the deadline.
func (p Policy) BackOff() backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier <= 1 {
		b = backoff.NewConstantBackOff(p.Interval)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxInterval = p.MaxInterval
		if eb.MaxInterval <= 0 {
			eb.MaxInterval = time.Duration(math.MaxInt64)
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}

	if p.Timeout > 0 {
		b = &deadlineBackOff{BackOff: b, timeout: p.Timeout}
	}
	return b
}

// deadlineBackOff ends a schedule after timeout, clamping the last wait.
type deadlineBackOff struct {
	backoff.BackOff
	timeout time.Duration
	start   time.Time
}

func (d *deadlineBackOff) Reset() {
	d.BackOff.Reset()
	d.start = time.Now()
}

func (d *deadlineBackOff) NextBackOff() time.Duration {
	remaining := d.timeout - time.Since(d.start)
	if remaining <= 0 {
		return backoff.Stop
	}
	next := d.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	return min(next, remaining)
}

// Poll calls fn until it reports done, returns an error, the timeout
// elapses or ctx ends. It returns the number of attempts made.
func Poll(ctx context.Context, p Policy, fn func(ctx context.Context) (done bool, err error)) (int, error) {
	start := time.Now()
	attempts := 0

	operation := func() error {
		attempts++
		done, err := fn(ctx)
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case !done:
			return errPending
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(p.BackOff(), ctx))
	if errors.Is(err, errPending) {
		if cerr := ctx.Err(); cerr != nil {
			return attempts, cerr
		}
		return attempts, fmt.Errorf("%w after %d attempts in %s", ErrTimeout, attempts, time.Since(start).Round(time.Millisecond))
	}
	return attempts, err
}
