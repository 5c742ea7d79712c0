package lock

import "fmt"

// State is a step of a DoWhileLocked call:
//
//	IDLE → ACQUIRING → HELD → {COMPLETED | TIMED_OUT | FAILED} → RELEASED
//
// RELEASED is reached from every branch, including failed acquisition.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateHeld
	StateCompleted
	StateTimedOut
	StateFailed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcquiring:
		return "ACQUIRING"
	case StateHeld:
		return "HELD"
	case StateCompleted:
		return "COMPLETED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateFailed:
		return "FAILED"
	case StateReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
