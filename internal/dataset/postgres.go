package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"watchtower/internal/constants"
	"watchtower/pkg/metrics"
)

// PostgresTableLoader snapshots a whole table. The source location is a
// table name, optionally schema-qualified.
type PostgresTableLoader struct {
	db *sql.DB
}

func NewPostgresTableLoader(db *sql.DB) *PostgresTableLoader {
	return &PostgresTableLoader{db: db}
}

func (l *PostgresTableLoader) Load(ctx context.Context, src Source) (*Table, error) {
	ident, err := quoteTableName(src.Location)
	if err != nil {
		return nil, loadError(src, err, false)
	}

	start := time.Now()
	table, err := l.query(ctx, "SELECT * FROM "+ident)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "postgres", "load_dataset", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(constants.ServiceName, "postgres", "load_dataset", "error")
		return nil, loadError(src, err, isTransientPostgresError(ctx, err))
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "postgres", "load_dataset", "success")
	return table, nil
}

func (l *PostgresTableLoader) query(ctx context.Context, query string) (*Table, error) {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]*Column, len(types))
	for i, ct := range types {
		columns[i] = &Column{Name: ct.Name(), Kind: kindForDatabaseType(ct.DatabaseTypeName())}
	}

	values := make([]interface{}, len(types))
	dest := make([]interface{}, len(types))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			col := columns[i]
			col.Cells = append(col.Cells, cellFromDatabase(col.Kind, v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewTable(columns...)
}

func kindForDatabaseType(name string) Kind {
	switch strings.ToUpper(name) {
	case "INT2", "INT4", "INT8":
		return KindInt
	case "FLOAT4", "FLOAT8", "NUMERIC":
		return KindFloat
	case "BOOL":
		return KindBool
	}
	return KindString
}

func cellFromDatabase(kind Kind, v interface{}) Cell {
	if v == nil {
		return NullCell()
	}

	switch kind {
	case KindInt:
		if n, ok := v.(int64); ok {
			return IntCell(n)
		}
	case KindFloat:
		switch x := v.(type) {
		case float64:
			return floatOrNull(x)
		case []byte:
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return floatOrNull(f)
			}
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return BoolCell(b)
		}
	}

	switch x := v.(type) {
	case string:
		return StringCell(x)
	case []byte:
		return StringCell(string(x))
	case time.Time:
		return StringCell(x.Format(time.RFC3339Nano))
	}
	return StringCell(fmt.Sprint(v))
}

// floatOrNull reads NaN as a missing value, the same as a "NaN" CSV cell.
func floatOrNull(f float64) Cell {
	if math.IsNaN(f) {
		return NullCell()
	}
	return FloatCell(f)
}

func quoteTableName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("table name is empty")
	}

	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	for i, part := range parts {
		if part == "" {
			return "", fmt.Errorf("invalid table name %q", name)
		}
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, "."), nil
}

// isTransientPostgresError treats connection and server-availability
// failures as retryable. Schema errors such as an undefined table are not.
func isTransientPostgresError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return true
}
