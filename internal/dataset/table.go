// Package dataset holds the in-memory tabular snapshot that rules are
// evaluated against, and the loaders that produce it.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	// KindNull marks a column whose cells are all null.
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Numeric reports whether range comparisons are defined for the kind.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindNull
}

// Cell is one typed value. A cell with Kind KindNull is null whatever the
// column kind.
type Cell struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

func NullCell() Cell             { return Cell{Kind: KindNull} }
func IntCell(v int64) Cell       { return Cell{Kind: KindInt, Int: v} }
func FloatCell(v float64) Cell   { return Cell{Kind: KindFloat, Float: v} }
func BoolCell(v bool) Cell       { return Cell{Kind: KindBool, Bool: v} }
func StringCell(v string) Cell   { return Cell{Kind: KindString, Str: v} }
func (c Cell) IsNull() bool      { return c.Kind == KindNull }
func (c Cell) Equal(o Cell) bool { return c == o }

// Number returns the value of an int or float cell.
func (c Cell) Number() (float64, bool) {
	switch c.Kind {
	case KindInt:
		return float64(c.Int), true
	case KindFloat:
		return c.Float, true
	}
	return 0, false
}

// Interface returns nil, int64, float64, bool or string.
func (c Cell) Interface() interface{} {
	switch c.Kind {
	case KindInt:
		return c.Int
	case KindFloat:
		if math.IsNaN(c.Float) || math.IsInf(c.Float, 0) {
			return c.Text()
		}
		return c.Float
	case KindBool:
		return c.Bool
	case KindString:
		return c.Str
	}
	return nil
}

// Text renders the cell the way dataframe tooling prints it: floats always
// carry a fractional part or exponent and booleans are capitalised. Null
// renders as "nan".
func (c Cell) Text() string {
	switch c.Kind {
	case KindInt:
		return strconv.FormatInt(c.Int, 10)
	case KindFloat:
		return formatFloat(c.Float)
	case KindBool:
		if c.Bool {
			return "True"
		}
		return "False"
	case KindString:
		return c.Str
	}
	return "nan"
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

type Column struct {
	Name  string
	Kind  Kind
	Cells []Cell
}

// Table is an immutable column-oriented snapshot.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// ColumnNotFoundError is returned when a rule references a missing column.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column '%s' not found in dataset (available: %s)", e.Column, strings.Join(e.Available, ", "))
}

func (e *ColumnNotFoundError) IsFatal() bool { return true }

// NewTable validates that column names are unique and all columns have the
// same length.
func NewTable(columns ...*Column) (*Table, error) {
	t := &Table{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}

	for i, col := range columns {
		if _, dup := t.index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		t.index[col.Name] = i

		if i == 0 {
			t.rows = len(col.Cells)
		} else if len(col.Cells) != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", col.Name, len(col.Cells), t.rows)
		}
	}

	return t, nil
}

// MustTable is NewTable for fixtures.
func MustTable(columns ...*Column) *Table {
	t, err := NewTable(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) RowCount() int {
	return t.rows
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, &ColumnNotFoundError{Column: name, Available: t.ColumnNames()}
	}
	return t.columns[i], nil
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []Cell {
	row := make([]Cell, len(t.columns))
	for j, col := range t.columns {
		row[j] = col.Cells[i]
	}
	return row
}
