package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered while evaluating a rule or serving a
// request. The stack is kept for logs only; ToErrorResponse never renders
// it.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func (p *PanicError) IsFatal() bool { return true }

// RecoverPanic converts a recovered value into a fatal internal error. It
// returns nil when nothing panicked.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}
	cause := &PanicError{Value: r, Stack: debug.Stack()}
	return ErrInternal.WithCause(cause).WithDetail("panic", true).AsFatal()
}

// PanicStack returns the stack captured by RecoverPanic, or "" when err did
// not come from a panic.
func PanicStack(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return string(p.Stack)
	}
	return ""
}
