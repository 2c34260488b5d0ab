package dsl

import (
	"fmt"
	"math"
)

// Rule binds the call to its typed rule. The argument count must match the
// function's arity exactly.
func (c *Call) Rule() (Rule, error) {
	if !c.Function.Valid() {
		return nil, &UnsupportedFunctionError{Function: string(c.Function)}
	}
	if want := c.Function.Arity(); len(c.Args) != want {
		return nil, &ArityError{Function: c.Function, Want: want, Got: len(c.Args)}
	}

	b := binder{fn: c.Function, args: c.Args}

	switch c.Function {
	case FuncNotNull:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		return NotNull{Column: col}, nil

	case FuncUnique:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		return Unique{Column: col}, nil

	case FuncInRange:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		lo, err := b.optionalNumber(1, "min")
		if err != nil {
			return nil, err
		}
		hi, err := b.optionalNumber(2, "max")
		if err != nil {
			return nil, err
		}
		return InRange{Column: col, Min: lo, Max: hi}, nil

	case FuncRegex:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		pattern, err := b.text(1, "pattern")
		if err != nil {
			return nil, err
		}
		return Regex{Column: col, Pattern: pattern}, nil

	case FuncLengthRange:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		lo, err := b.length(1, "min length")
		if err != nil {
			return nil, err
		}
		hi, err := b.length(2, "max length")
		if err != nil {
			return nil, err
		}
		return LengthRange{Column: col, MinLen: lo, MaxLen: hi}, nil

	case FuncForeignKey:
		col, err := b.column(0)
		if err != nil {
			return nil, err
		}
		table, err := b.text(1, "reference table")
		if err != nil {
			return nil, err
		}
		refCol, err := b.text(2, "reference column")
		if err != nil {
			return nil, err
		}
		return ForeignKey{Column: col, RefTable: table, RefColumn: refCol}, nil
	}

	return nil, &UnsupportedFunctionError{Function: string(c.Function)}
}

type binder struct {
	fn   Function
	args []Value
}

func (b binder) mismatch(i int, name, expected string) error {
	return &TypeMismatchError{
		Function: b.fn,
		Subject:  fmt.Sprintf("argument %d (%s)", i+1, name),
		Expected: expected,
		Actual:   b.args[i].Kind.String(),
	}
}

func (b binder) column(i int) (string, error) {
	return b.text(i, "column")
}

func (b binder) text(i int, name string) (string, error) {
	v := b.args[i]
	if v.Kind != KindString || v.Str == "" {
		return "", b.mismatch(i, name, "a non-empty string")
	}
	return v.Str, nil
}

func (b binder) optionalNumber(i int, name string) (*float64, error) {
	v := b.args[i]
	if v.IsNull() {
		return nil, nil
	}
	n, ok := v.Number()
	if !ok {
		return nil, b.mismatch(i, name, "a number or null")
	}
	return &n, nil
}

func (b binder) length(i int, name string) (int, error) {
	v := b.args[i]
	switch v.Kind {
	case KindInt:
		if v.Int < 0 || v.Int > math.MaxInt32 {
			return 0, b.mismatch(i, name, "a non-negative integer")
		}
		return int(v.Int), nil
	case KindFloat:
		if v.Float == math.Trunc(v.Float) && v.Float >= 0 && v.Float <= math.MaxInt32 {
			return int(v.Float), nil
		}
	}
	return 0, b.mismatch(i, name, "a non-negative integer")
}
