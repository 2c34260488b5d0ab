package dataset

import (
	"strconv"
	"strings"
)

// nullTokens are the spellings treated as missing values in text input.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

var boolTokens = map[string]bool{
	"True": true, "TRUE": true, "true": true,
	"False": false, "FALSE": false, "false": false,
}

func isNullToken(s string) bool {
	_, ok := nullTokens[s]
	return ok
}

// InferColumn types a column of raw text values. The narrowest kind that
// accepts every non-null value wins: int, then float, then bool, else
// string. Cells are converted to the chosen kind.
func InferColumn(name string, raw []string) *Column {
	kind := inferKind(raw)
	cells := make([]Cell, len(raw))

	for i, s := range raw {
		if isNullToken(s) {
			cells[i] = NullCell()
			continue
		}
		switch kind {
		case KindInt:
			n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			cells[i] = IntCell(n)
		case KindFloat:
			f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
			cells[i] = FloatCell(f)
		case KindBool:
			cells[i] = BoolCell(boolTokens[s])
		default:
			cells[i] = StringCell(s)
		}
	}

	return &Column{Name: name, Kind: kind, Cells: cells}
}

func inferKind(raw []string) Kind {
	isInt, isFloat, isBool := true, true, true
	seen := false

	for _, s := range raw {
		if isNullToken(s) {
			continue
		}
		seen = true
		v := strings.TrimSpace(s)

		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat && !isInt {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := boolTokens[s]; !ok {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return KindString
		}
	}

	switch {
	case !seen:
		return KindNull
	case isInt:
		return KindInt
	case isFloat:
		return KindFloat
	case isBool:
		return KindBool
	}
	return KindString
}

// FromRecords builds a table from a header row and string records. Short
// records are padded with nulls and repeated header names get a ".N" suffix.
func FromRecords(header []string, records [][]string) (*Table, error) {
	columns := make([]*Column, len(header))
	for j, name := range dedupeHeader(header) {
		raw := make([]string, len(records))
		for i, rec := range records {
			if j < len(rec) {
				raw[i] = rec[j]
			}
		}
		columns[j] = InferColumn(name, raw)
	}
	return NewTable(columns...)
}

func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	counts := make(map[string]int, len(header))

	for i, name := range header {
		candidate := name
		for taken[candidate] {
			counts[name]++
			candidate = name + "." + strconv.Itoa(counts[name])
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
