// Package evaluator applies a bound rule to a table snapshot. Evaluation is
// pure: it reads only its arguments and never performs I/O.
package evaluator

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
)

type Outcome string

const (
	OutcomeEvaluated Outcome = "evaluated"
	// OutcomeNotImplemented marks a rule that could not be checked, such as
	// a foreign key without reference data. It carries zero failures.
	OutcomeNotImplemented Outcome = "not_implemented"
)

// Result holds per-row failures. Mask[i] is true when row i failed.
type Result struct {
	Passed  int
	Failed  int
	Mask    []bool
	Outcome Outcome
}

func newResult(mask []bool, outcome Outcome) *Result {
	failed := 0
	for _, f := range mask {
		if f {
			failed++
		}
	}
	return &Result{
		Passed:  len(mask) - failed,
		Failed:  failed,
		Mask:    mask,
		Outcome: outcome,
	}
}

// References maps a reference table name to its snapshot for FOREIGN_KEY
// checks.
type References map[string]*dataset.Table

// InvalidPatternError is returned when a REGEX pattern does not compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid regex pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

func (e *InvalidPatternError) IsFatal() bool { return true }

func Evaluate(rule dsl.Rule, table *dataset.Table) (*Result, error) {
	return EvaluateWith(rule, table, nil)
}

// EvaluateCall binds call and evaluates the resulting rule.
func EvaluateCall(call *dsl.Call, table *dataset.Table, refs References) (*Result, error) {
	rule, err := call.Rule()
	if err != nil {
		return nil, err
	}
	return EvaluateWith(rule, table, refs)
}

// EvaluateWith evaluates rule, resolving FOREIGN_KEY reference tables from
// refs. Every column the rule reads is resolved before any row is visited.
func EvaluateWith(rule dsl.Rule, table *dataset.Table, refs References) (*Result, error) {
	if rule == nil {
		return nil, fmt.Errorf("nil rule")
	}

	columns := make([]*dataset.Column, 0, 1)
	for _, name := range rule.Columns() {
		col, err := table.Column(name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	col := columns[0]

	switch r := rule.(type) {
	case dsl.NotNull:
		return newResult(notNull(col), OutcomeEvaluated), nil
	case dsl.Unique:
		return newResult(unique(col), OutcomeEvaluated), nil
	case dsl.InRange:
		mask, err := inRange(r, col)
		if err != nil {
			return nil, err
		}
		return newResult(mask, OutcomeEvaluated), nil
	case dsl.Regex:
		mask, err := matchRegex(r, col)
		if err != nil {
			return nil, err
		}
		return newResult(mask, OutcomeEvaluated), nil
	case dsl.LengthRange:
		return newResult(lengthRange(r, col), OutcomeEvaluated), nil
	case dsl.ForeignKey:
		return foreignKey(r, col, refs)
	default:
		return nil, fmt.Errorf("unsupported rule type %T", rule)
	}
}

func notNull(col *dataset.Column) []bool {
	mask := make([]bool, len(col.Cells))
	for i, c := range col.Cells {
		mask[i] = c.IsNull()
	}
	return mask
}

// unique fails every member of a group of equal values, nulls included.
// NaN floats group together.
func unique(col *dataset.Column) []bool {
	counts := make(map[dataset.Cell]int, len(col.Cells))
	for _, c := range col.Cells {
		counts[uniqueKey(c)]++
	}

	mask := make([]bool, len(col.Cells))
	for i, c := range col.Cells {
		mask[i] = counts[uniqueKey(c)] > 1
	}
	return mask
}

func uniqueKey(c dataset.Cell) dataset.Cell {
	if c.Kind == dataset.KindFloat && math.IsNaN(c.Float) {
		return dataset.Cell{Kind: dataset.KindFloat, Str: "nan"}
	}
	return c
}

func inRange(r dsl.InRange, col *dataset.Column) ([]bool, error) {
	mask := make([]bool, len(col.Cells))
	if r.Min == nil && r.Max == nil {
		return mask, nil
	}
	if !col.Kind.Numeric() {
		return nil, &dsl.TypeMismatchError{
			Function: dsl.FuncInRange,
			Subject:  fmt.Sprintf("column '%s'", col.Name),
			Expected: "numeric",
			Actual:   col.Kind.String(),
		}
	}

	for i, c := range col.Cells {
		v, ok := c.Number()
		if !ok {
			continue
		}
		if r.Min != nil && v < *r.Min {
			mask[i] = true
		}
		if r.Max != nil && v > *r.Max {
			mask[i] = true
		}
	}
	return mask, nil
}

// CompilePattern validates a REGEX pattern and returns a matcher anchored at
// the start of the input only.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	re, err := regexp.Compile(`\A(?:` + pattern + `)`)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	return re, nil
}

func matchRegex(r dsl.Regex, col *dataset.Column) ([]bool, error) {
	re, err := CompilePattern(r.Pattern)
	if err != nil {
		return nil, err
	}
	if col.Kind != dataset.KindString {
		return nil, &dsl.TypeMismatchError{
			Function: dsl.FuncRegex,
			Subject:  fmt.Sprintf("column '%s'", col.Name),
			Expected: "string",
			Actual:   col.Kind.String(),
		}
	}

	mask := make([]bool, len(col.Cells))
	for i, c := range col.Cells {
		if c.IsNull() {
			mask[i] = true
			continue
		}
		mask[i] = !re.MatchString(c.Str)
	}
	return mask, nil
}

func lengthRange(r dsl.LengthRange, col *dataset.Column) []bool {
	mask := make([]bool, len(col.Cells))
	for i, c := range col.Cells {
		if c.IsNull() {
			continue
		}
		n := utf8.RuneCountInString(c.Text())
		mask[i] = n < r.MinLen || n > r.MaxLen
	}
	return mask
}

func foreignKey(r dsl.ForeignKey, col *dataset.Column, refs References) (*Result, error) {
	refTable, ok := refs[r.RefTable]
	if !ok || refTable == nil {
		return newResult(make([]bool, len(col.Cells)), OutcomeNotImplemented), nil
	}

	refCol, err := refTable.Column(r.RefColumn)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(refCol.Cells))
	for _, c := range refCol.Cells {
		if !c.IsNull() {
			allowed[c.Text()] = struct{}{}
		}
	}

	mask := make([]bool, len(col.Cells))
	for i, c := range col.Cells {
		if c.IsNull() {
			continue
		}
		_, found := allowed[c.Text()]
		mask[i] = !found
	}
	return newResult(mask, OutcomeEvaluated), nil
}
