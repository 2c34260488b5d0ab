package dsl

import (
	"regexp"
	"strconv"
	"strings"
)

type Function string

const (
	FuncNotNull     Function = "NOT_NULL"
	FuncUnique      Function = "UNIQUE"
	FuncInRange     Function = "IN_RANGE"
	FuncRegex       Function = "REGEX"
	FuncLengthRange Function = "LENGTH_RANGE"
	FuncForeignKey  Function = "FOREIGN_KEY"
)

var arities = map[Function]int{
	FuncNotNull:     1,
	FuncUnique:      1,
	FuncInRange:     3,
	FuncRegex:       2,
	FuncLengthRange: 3,
	FuncForeignKey:  3,
}

// Functions lists the supported rule functions in a stable order.
func Functions() []Function {
	return []Function{FuncNotNull, FuncUnique, FuncInRange, FuncRegex, FuncLengthRange, FuncForeignKey}
}

func (f Function) Valid() bool {
	_, ok := arities[f]
	return ok
}

// Arity is the exact number of arguments f takes.
func (f Function) Arity() int {
	return arities[f]
}

// Rule is a bound, fully typed rule. The set of implementations is closed.
type Rule interface {
	Function() Function
	// Columns returns the dataset columns the rule reads.
	Columns() []string
	// String renders the rule as DSL text that parses back to an equal rule.
	String() string
	isRule()
}

type NotNull struct {
	Column string
}

type Unique struct {
	Column string
}

// InRange bounds are inclusive. A nil bound is not checked.
type InRange struct {
	Column string
	Min    *float64
	Max    *float64
}

// Regex matches Pattern at the start of each value.
type Regex struct {
	Column  string
	Pattern string
}

type LengthRange struct {
	Column string
	MinLen int
	MaxLen int
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

func (NotNull) Function() Function     { return FuncNotNull }
func (Unique) Function() Function      { return FuncUnique }
func (InRange) Function() Function     { return FuncInRange }
func (Regex) Function() Function       { return FuncRegex }
func (LengthRange) Function() Function { return FuncLengthRange }
func (ForeignKey) Function() Function  { return FuncForeignKey }

func (r NotNull) Columns() []string     { return []string{r.Column} }
func (r Unique) Columns() []string      { return []string{r.Column} }
func (r InRange) Columns() []string     { return []string{r.Column} }
func (r Regex) Columns() []string       { return []string{r.Column} }
func (r LengthRange) Columns() []string { return []string{r.Column} }
func (r ForeignKey) Columns() []string  { return []string{r.Column} }

func (NotNull) isRule()     {}
func (Unique) isRule()      {}
func (InRange) isRule()     {}
func (Regex) isRule()       {}
func (LengthRange) isRule() {}
func (ForeignKey) isRule()  {}

func (r NotNull) String() string {
	return render(FuncNotNull, renderIdent(r.Column))
}

func (r Unique) String() string {
	return render(FuncUnique, renderIdent(r.Column))
}

func (r InRange) String() string {
	return render(FuncInRange, renderIdent(r.Column), renderBound(r.Min), renderBound(r.Max))
}

func (r Regex) String() string {
	return render(FuncRegex, renderIdent(r.Column), quote(r.Pattern))
}

func (r LengthRange) String() string {
	return render(FuncLengthRange, renderIdent(r.Column), strconv.Itoa(r.MinLen), strconv.Itoa(r.MaxLen))
}

func (r ForeignKey) String() string {
	return render(FuncForeignKey, renderIdent(r.Column), renderIdent(r.RefTable), renderIdent(r.RefColumn))
}

func render(f Function, args ...string) string {
	return string(f) + "(" + strings.Join(args, ", ") + ")"
}

var bareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// renderIdent leaves plain identifiers bare and quotes anything the
// scanner would otherwise split, convert or trim.
func renderIdent(s string) string {
	if bareIdent.MatchString(s) && !strings.EqualFold(s, "null") {
		return s
	}
	return quote(s)
}

func quote(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	return `'` + s + `'`
}

func renderBound(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
