package dsl

import "fmt"

// SyntaxError reports rule text that is not of the form NAME(args).
type SyntaxError struct {
	Expression string
	Reason     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid rule expression %q: %s", e.Expression, e.Reason)
}

func (e *SyntaxError) IsFatal() bool { return true }

type UnsupportedFunctionError struct {
	Function string
}

func (e *UnsupportedFunctionError) Error() string {
	return fmt.Sprintf("unsupported function: %s", e.Function)
}

func (e *UnsupportedFunctionError) IsFatal() bool { return true }

// ArityError is returned when a call has the wrong number of arguments
// for its function.
type ArityError struct {
	Function Function
	Want     int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s expects %d arguments, got %d", e.Function, e.Want, e.Got)
}

func (e *ArityError) IsFatal() bool { return true }

// TypeMismatchError covers both arguments of the wrong kind and columns
// whose type a rule cannot evaluate.
type TypeMismatchError struct {
	Function Function
	Subject  string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s must be %s, got %s", e.Function, e.Subject, e.Expected, e.Actual)
}

func (e *TypeMismatchError) IsFatal() bool { return true }
