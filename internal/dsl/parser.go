// Package dsl parses data-quality rule expressions of the form
// FUNCTION(arg, ...) and binds them to typed rules.
//
// Parsing is permissive about argument counts and types. Binding a Call to a
// Rule is strict and reports ArityError or TypeMismatchError.
package dsl

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var callShape = regexp.MustCompile(`^([A-Z_]+)\((.*)\)$`)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Value is one parsed argument.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
}

func Null() Value               { return Value{Kind: KindNull} }
func Int(v int64) Value         { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value     { return Value{Kind: KindFloat, Float: v} }
func String(v string) Value     { return Value{Kind: KindString, Str: v} }
func (v Value) IsNull() bool    { return v.Kind == KindNull }
func (v Value) IsNumeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// Number returns the numeric value of an int or float argument.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// Call is a parsed but unbound rule expression.
type Call struct {
	Function Function
	Args     []Value
}

// Parse turns rule text into a Call. It fails with *SyntaxError when the text
// is not NAME(...) and with *UnsupportedFunctionError for unknown names.
func Parse(text string) (*Call, error) {
	expr := strings.TrimSpace(text)

	m := callShape.FindStringSubmatch(expr)
	if m == nil {
		return nil, &SyntaxError{Expression: expr, Reason: "expected FUNCTION(arg, ...)"}
	}

	fn := Function(m[1])
	if !fn.Valid() {
		return nil, &UnsupportedFunctionError{Function: m[1]}
	}

	args, err := scanArgs(m[2])
	if err != nil {
		return nil, &SyntaxError{Expression: expr, Reason: err.Error()}
	}

	return &Call{Function: fn, Args: args}, nil
}

// ParseRule parses and binds in one step.
func ParseRule(text string) (Rule, error) {
	call, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return call.Rule()
}

var errUnterminatedQuote = errors.New("unterminated quoted argument")

// scanArgs splits the argument list on commas outside quotes. A quote
// preceded by a backslash neither opens nor closes a quoted run, and the
// backslash is kept. Quoted text is taken verbatim as a string; empty
// unquoted arguments are dropped.
func scanArgs(s string) ([]Value, error) {
	var (
		args     []Value
		cur      strings.Builder
		inQuotes bool
		quote    byte
	)

	skipSpace := func(i int) int {
		for i+1 < len(s) && isSpace(s[i+1]) {
			i++
		}
		return i
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]

		switch {
		case (ch == '"' || ch == '\'') && (i == 0 || s[i-1] != '\\'):
			if !inQuotes {
				inQuotes = true
				quote = ch
				continue
			}
			if ch != quote {
				cur.WriteByte(ch)
				continue
			}
			inQuotes = false
			args = append(args, String(cur.String()))
			cur.Reset()
			if i+1 < len(s) && s[i+1] == ',' {
				i++
			}
			i = skipSpace(i)

		case ch == ',' && !inQuotes:
			if tok := strings.TrimSpace(cur.String()); tok != "" {
				args = append(args, convert(tok))
			}
			cur.Reset()
			i = skipSpace(i)

		default:
			cur.WriteByte(ch)
		}
	}

	if inQuotes {
		return nil, errUnterminatedQuote
	}

	if tok := strings.TrimSpace(cur.String()); tok != "" {
		args = append(args, convert(tok))
	}

	return args, nil
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// convert types an unquoted token: null, then a number (float when it has
// a dot), otherwise a bare string.
func convert(tok string) Value {
	if strings.EqualFold(tok, "null") {
		return Null()
	}

	if strings.Contains(tok, ".") {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return Float(f)
		}
	} else if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Int(n)
	} else if errors.Is(err, strconv.ErrRange) {
		if f, ferr := strconv.ParseFloat(tok, 64); ferr == nil {
			return Float(f)
		}
	}

	if len(tok) > 0 {
		first, last := tok[0], tok[len(tok)-1]
		if (first == '"' || first == '\'') && first == last {
			if len(tok) == 1 {
				return String("")
			}
			return String(tok[1 : len(tok)-1])
		}
	}

	return String(tok)
}
