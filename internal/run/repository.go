package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"watchtower/internal/constants"
	"watchtower/internal/evaluator"
	"watchtower/pkg/metrics"
)

type Repository interface {
	// CreateIfAbsent stores res unless a run with the same ID exists. It
	// returns the stored run and whether this call created it.
	CreateIfAbsent(ctx context.Context, res *Result) (*Result, bool, error)
	// Complete and Fail move a RUNNING run to its terminal state. Both fail
	// with a conflict when the run has already finished.
	Complete(ctx context.Context, res *Result) error
	Fail(ctx context.Context, res *Result) error
	Get(ctx context.Context, runID string) (*Result, error)
	ListByDataset(ctx context.Context, datasetID string, limit, offset int) ([]*Result, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const runColumns = `run_id, rule_id, dataset_id, status, started_at, finished_at, total_rows,
	passed_count, failed_count, outcome, evidence, evidence_ref, error`

func scanRun(row interface{ Scan(...interface{}) error }) (*Result, error) {
	var (
		res        Result
		finishedAt sql.NullTime
		outcome    sql.NullString
		evidence   []byte
		ref        sql.NullString
		runErr     sql.NullString
	)
	err := row.Scan(&res.RunID, &res.RuleID, &res.DatasetID, &res.Status, &res.StartedAt, &finishedAt,
		&res.TotalRows, &res.PassedCount, &res.FailedCount, &outcome, &evidence, &ref, &runErr)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		res.FinishedAt = &t
	}
	res.Outcome = evaluator.Outcome(outcome.String)
	if len(evidence) > 0 {
		res.Evidence = json.RawMessage(evidence)
	}
	res.EvidenceRef = ref.String
	res.Error = runErr.String
	return &res, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
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

func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, res *Result) (*Result, bool, error) {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, rule_id, dataset_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING
	`, res.RunID, res.RuleID, res.DatasetID, res.Status, res.StartedAt)
	observe("create_run", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if inserted == 1 {
		cp := *res
		return &cp, true, nil
	}

	existing, err := r.Get(ctx, res.RunID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, res *Result) error {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, finished_at = $2, total_rows = $3, passed_count = $4, failed_count = $5,
			outcome = $6, evidence = $7, evidence_ref = $8, error = NULL
		WHERE run_id = $9 AND status = 'RUNNING'
	`, StatusCompleted, res.FinishedAt, res.TotalRows, res.PassedCount, res.FailedCount,
		nullString(string(res.Outcome)), nullJSON(res.Evidence), nullString(res.EvidenceRef), res.RunID)
	observe("complete_run", start, err)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return checkTransition(result, res.RunID)
}

func (r *PostgresRepository) Fail(ctx context.Context, res *Result) error {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, finished_at = $2, total_rows = 0, passed_count = 0, failed_count = 0,
			outcome = NULL, evidence = NULL, evidence_ref = NULL, error = $3
		WHERE run_id = $4 AND status = 'RUNNING'
	`, StatusFailed, res.FinishedAt, nullString(res.Error), res.RunID)
	observe("fail_run", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return checkTransition(result, res.RunID)
}

func checkTransition(result sql.Result, runID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return alreadyFinished(runID)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, runID string) (*Result, error) {
	start := time.Now()
	res, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID))
	observe("get_run", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) ListByDataset(ctx context.Context, datasetID string, limit, offset int) ([]*Result, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE dataset_id = $1
		ORDER BY started_at DESC, run_id ASC
		LIMIT $2 OFFSET $3
	`, datasetID, clampLimit(limit), offset)
	if err != nil {
		observe("list_runs", start, err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Result{}
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			observe("list_runs", start, err)
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, res)
	}
	err = rows.Err()
	observe("list_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return runs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		return constants.MaxLimit
	}
	return limit
}

type MemoryRepository struct {
	mu   sync.Mutex
	runs map[string]*Result
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]*Result)}
}

func (r *MemoryRepository) CreateIfAbsent(_ context.Context, res *Result) (*Result, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[res.RunID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *res
	r.runs[res.RunID] = &stored
	cp := stored
	return &cp, true, nil
}

func (r *MemoryRepository) Complete(_ context.Context, res *Result) error {
	return r.finish(res, StatusCompleted)
}

func (r *MemoryRepository) Fail(_ context.Context, res *Result) error {
	return r.finish(res, StatusFailed)
}

func (r *MemoryRepository) finish(res *Result, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.runs[res.RunID]
	if !ok {
		return notFound(res.RunID)
	}
	if existing.Status != StatusRunning {
		return alreadyFinished(res.RunID)
	}

	next := *res
	next.Status = status
	next.StartedAt = existing.StartedAt
	if status == StatusFailed {
		next.TotalRows, next.PassedCount, next.FailedCount = 0, 0, 0
		next.Outcome, next.Evidence, next.EvidenceRef = "", nil, ""
	} else {
		next.Error = ""
	}
	r.runs[res.RunID] = &next
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, runID string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.runs[runID]
	if !ok {
		return nil, notFound(runID)
	}
	cp := *res
	return &cp, nil
}

func (r *MemoryRepository) ListByDataset(_ context.Context, datasetID string, limit, offset int) ([]*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*Result{}
	for _, res := range r.runs {
		if res.DatasetID == datasetID {
			cp := *res
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})

	if offset >= len(out) {
		return []*Result{}, nil
	}
	out = out[offset:]
	if l := clampLimit(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}
