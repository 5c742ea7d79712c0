package retry

import (
	"fmt"
	"runtime/debug"
)

// Result is the settled outcome of an Async call.
type Result[T any] struct {
	Value T
	Err   error
}

// PanicError carries a recovered panic out of an Async call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Async runs fn in its own goroutine and delivers exactly one Result on the
// returned channel. The channel is buffered; delivery never blocks after
// the caller stops listening. Panics are returned as *PanicError.
func Async[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		var res Result[T]
		defer func() {
			if r := recover(); r != nil {
				res = Result[T]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			ch <- res
		}()
		res.Value, res.Err = fn()
	}()
	return ch
}
