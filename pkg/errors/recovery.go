package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a value recovered while running op into a fatal internal error
// that carries the stack.
func RecoverPanic(op string, r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = fmt.Errorf("panic in %s: %w", op, v)
	default:
		cause = fmt.Errorf("panic in %s: %v", op, v)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("operation", op).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}

// Guard runs fn and reports a panic as the error RecoverPanic builds.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(op, r)
		}
	}()
	return fn()
}
