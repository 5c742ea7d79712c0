package lock

import "github.com/VictoriaMetrics/metrics"

var (
	acquiredTotal    = metrics.NewCounter(`arbor_lock_acquire_total{result="acquired"}`)
	acquireTimeouts  = metrics.NewCounter(`arbor_lock_acquire_total{result="timeout"}`)
	acquireErrors    = metrics.NewCounter(`arbor_lock_acquire_total{result="error"}`)
	attemptsTotal    = metrics.NewCounter(`arbor_lock_attempts_total`)
	interruptedTotal = metrics.NewCounter(`arbor_lock_interrupted_total`)
	releaseErrors    = metrics.NewCounter(`arbor_lock_release_errors_total`)
	waitSeconds      = metrics.NewHistogram(`arbor_lock_wait_seconds`)
	heldSeconds      = metrics.NewHistogram(`arbor_lock_held_seconds`)
)
