package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferColumn(t *testing.T) {
	tests := []struct {
		name  string
		raw   []string
		kind  Kind
		cells []Cell
	}{
		{
			name:  "ints with nulls",
			raw:   []string{"1", "", " 3", "NA"},
			kind:  KindInt,
			cells: []Cell{IntCell(1), NullCell(), IntCell(3), NullCell()},
		},
		{
			name:  "mixed ints and floats",
			raw:   []string{"1", "2.5"},
			kind:  KindFloat,
			cells: []Cell{FloatCell(1), FloatCell(2.5)},
		},
		{
			name:  "booleans",
			raw:   []string{"true", "False", "null"},
			kind:  KindBool,
			cells: []Cell{BoolCell(true), BoolCell(false), NullCell()},
		},
		{
			name:  "text",
			raw:   []string{"1", "abc"},
			kind:  KindString,
			cells: []Cell{StringCell("1"), StringCell("abc")},
		},
		{
			name:  "ints and booleans mix to text",
			raw:   []string{"1", "true"},
			kind:  KindString,
			cells: []Cell{StringCell("1"), StringCell("true")},
		},
		{
			name:  "all null",
			raw:   []string{"", "NaN", "None"},
			kind:  KindNull,
			cells: []Cell{NullCell(), NullCell(), NullCell()},
		},
		{
			name:  "empty",
			raw:   []string{},
			kind:  KindNull,
			cells: []Cell{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := InferColumn("c", tt.raw)
			assert.Equal(t, tt.kind, col.Kind)
			assert.Equal(t, tt.cells, col.Cells)
		})
	}
}

func TestFromRecords(t *testing.T) {
	table, err := FromRecords(
		[]string{"id", "name", "id"},
		[][]string{
			{"1", "ann", "10"},
			{"2"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "id.1"}, table.ColumnNames())
	assert.Equal(t, 2, table.RowCount())

	name, err := table.Column("name")
	require.NoError(t, err)
	assert.Equal(t, []Cell{StringCell("ann"), NullCell()}, name.Cells)
}

func TestDedupeHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "a.1", "a.1.1", "a.2"},
		dedupeHeader([]string{"a", "a", "a.1", "a"}),
	)
}
