// Package evidence collects a bounded sample of failing rows for review and
// decides when a sample is large enough to live outside the run record.
package evidence

import (
	"bytes"
	"encoding/json"
	"time"

	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
)

// Row is one failing row. It marshals as a JSON object whose keys keep the
// dataset's column order.
type Row struct {
	columns []string
	values  []interface{}
}

func (r Row) Get(column string) (interface{}, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Bundle struct {
	TotalFailed int          `json:"total_failed"`
	Sample      []Row        `json:"sample_rows"`
	Columns     []string     `json:"columns"`
	RuleType    dsl.Function `json:"rule_type"`
	GeneratedAt time.Time    `json:"timestamp"`
}

func (b *Bundle) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Size is the length of the serialized bundle in bytes.
func (b *Bundle) Size() (int, error) {
	data, err := b.Marshal()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

type Builder struct {
	cap int
	now func() time.Time
}

type Option func(*Builder)

func WithCap(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.cap = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		cap: constants.DefaultEvidenceSampleCap,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build samples the first cap failing rows in row order. TotalFailed is
// always the full count from mask.
func (b *Builder) Build(table *dataset.Table, mask []bool, fn dsl.Function) *Bundle {
	columns := table.ColumnNames()
	bundle := &Bundle{
		Sample:      []Row{},
		Columns:     columns,
		RuleType:    fn,
		GeneratedAt: b.now().UTC(),
	}

	for i, failed := range mask {
		if !failed {
			continue
		}
		bundle.TotalFailed++
		if len(bundle.Sample) >= b.cap {
			continue
		}

		cells := table.Row(i)
		values := make([]interface{}, len(cells))
		for j, c := range cells {
			values[j] = c.Interface()
		}
		bundle.Sample = append(bundle.Sample, Row{columns: columns, values: values})
	}

	return bundle
}
