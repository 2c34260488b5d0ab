package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchtower/internal/constants"
	"watchtower/pkg/metrics"
)

type Repository interface {
	// OpenOrTouch inserts inc unless a non-resolved incident exists for the
	// same rule and dataset, in which case only that incident's UpdatedAt
	// moves. created reports which happened.
	OpenOrTouch(ctx context.Context, inc *Incident) (stored *Incident, created bool, err error)
	Get(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, filter ListFilter) ([]*Incident, error)
	Transition(ctx context.Context, id string, to Status, now time.Time) (*Incident, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const incidentColumns = `id, rule_id, dataset_id, run_id, severity, title, description, evidence, status,
	created_at, updated_at, acknowledged_at, resolved_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row scanner, extra ...interface{}) (*Incident, error) {
	var (
		inc          Incident
		evidence     []byte
		acknowledged sql.NullTime
		resolved     sql.NullTime
	)
	dest := []interface{}{
		&inc.ID, &inc.RuleID, &inc.DatasetID, &inc.RunID, &inc.Severity, &inc.Title,
		&inc.Description, &evidence, &inc.Status, &inc.CreatedAt, &inc.UpdatedAt,
		&acknowledged, &resolved,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if len(evidence) > 0 {
		inc.Evidence = json.RawMessage(evidence)
	}
	if acknowledged.Valid {
		t := acknowledged.Time
		inc.AcknowledgedAt = &t
	}
	if resolved.Valid {
		t := resolved.Time
		inc.ResolvedAt = &t
	}
	return &inc, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "postgres", operation, time.Since(start))
}

// OpenOrTouch relies on the partial unique index over (rule_id, dataset_id)
// for non-resolved rows, so concurrent failures cannot open two incidents.
func (r *PostgresRepository) OpenOrTouch(ctx context.Context, inc *Incident) (*Incident, bool, error) {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Status == "" {
		inc.Status = StatusOpen
	}

	start := time.Now()
	query := `
		INSERT INTO incidents (id, rule_id, dataset_id, run_id, severity, title, description, evidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (rule_id, dataset_id) WHERE status <> 'RESOLVED'
		DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING ` + incidentColumns + `, (xmax = 0) AS inserted
	`

	var created bool
	stored, err := scanIncident(r.db.QueryRowContext(ctx, query,
		inc.ID, inc.RuleID, inc.DatasetID, inc.RunID, inc.Severity, inc.Title, inc.Description,
		nullableJSON(inc.Evidence), inc.Status, inc.CreatedAt, inc.UpdatedAt,
	), &created)
	observe("open_or_touch_incident", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert incident: %w", err)
	}
	return stored, created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Incident, error) {
	start := time.Now()
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, id))
	observe("get_incident", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.DatasetID != "" {
		add("dataset_id = $%d", filter.DatasetID)
	}
	if filter.RuleID != "" {
		add("rule_id = $%d", filter.RuleID)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		observe("list_incidents", start, err)
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			observe("list_incidents", start, err)
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	err = rows.Err()
	observe("list_incidents", start, err)
	if err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return incidents, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, to Status, now time.Time) (*Incident, error) {
	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inc, err := scanIncident(tx.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock incident: %w", err)
	}

	if err := applyTransition(inc, to, now); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, updated_at = $2, acknowledged_at = $3, resolved_at = $4
		WHERE id = $5
	`, inc.Status, inc.UpdatedAt, inc.AcknowledgedAt, inc.ResolvedAt, inc.ID)
	if err != nil {
		observe("transition_incident", start, err)
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	err = tx.Commit()
	observe("transition_incident", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to commit incident update: %w", err)
	}
	return inc, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		return constants.MaxLimit
	}
	return limit
}

// MemoryRepository is an in-process incident store for the CLI and tests.
type MemoryRepository struct {
	mu        sync.Mutex
	incidents map[string]*Incident
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{incidents: make(map[string]*Incident)}
}

func (r *MemoryRepository) OpenOrTouch(_ context.Context, inc *Incident) (*Incident, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.incidents {
		if existing.RuleID == inc.RuleID && existing.DatasetID == inc.DatasetID && existing.Status.IsOpen() {
			existing.UpdatedAt = inc.UpdatedAt
			cp := *existing
			return &cp, false, nil
		}
	}

	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Status == "" {
		inc.Status = StatusOpen
	}
	cp := *inc
	r.incidents[inc.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.incidents[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *inc
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*Incident{}
	for _, inc := range r.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.DatasetID != "" && inc.DatasetID != filter.DatasetID {
			continue
		}
		if filter.RuleID != "" && inc.RuleID != filter.RuleID {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset >= len(out) {
		return []*Incident{}, nil
	}
	out = out[filter.Offset:]
	if limit := limitOrDefault(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id string, to Status, now time.Time) (*Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.incidents[id]
	if !ok {
		return nil, notFound(id)
	}

	next := *inc
	if err := applyTransition(&next, to, now); err != nil {
		return nil, err
	}
	*inc = next
	cp := next
	return &cp, nil
}
