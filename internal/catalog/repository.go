package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"watchtower/internal/constants"
	pkgerrors "watchtower/pkg/errors"
	"watchtower/pkg/metrics"
)

type Repository interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	GetDataset(ctx context.Context, id string) (*Dataset, error)
	GetDatasetByName(ctx context.Context, name string) (*Dataset, error)
	ListActiveRules(ctx context.Context, datasetID string) ([]*Rule, error)
	CreateDataset(ctx context.Context, ds *Dataset) error
	CreateRule(ctx context.Context, rule *Rule) error
	SetRuleActive(ctx context.Context, id string, active bool) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, name, rule_type, expression, severity, dataset_id, active, created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	var rule Rule
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.RuleType, &rule.Expression,
		&rule.Severity, &rule.DatasetID, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

const datasetColumns = `id, name, source_type, source_location, created_at, updated_at`

func scanDataset(row interface{ Scan(...interface{}) error }) (*Dataset, error) {
	var ds Dataset
	err := row.Scan(&ds.ID, &ds.Name, &ds.SourceType, &ds.SourceLocation, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "postgres", operation, time.Since(start))
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	start := time.Now()
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	observe("get_rule", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ruleNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *PostgresRepository) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	start := time.Now()
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE id = $1`

	ds, err := scanDataset(r.db.QueryRowContext(ctx, query, id))
	observe("get_dataset", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, datasetNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return ds, nil
}

func (r *PostgresRepository) GetDatasetByName(ctx context.Context, name string) (*Dataset, error) {
	start := time.Now()
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE name = $1`

	ds, err := scanDataset(r.db.QueryRowContext(ctx, query, name))
	observe("get_dataset_by_name", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, datasetNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return ds, nil
}

func (r *PostgresRepository) ListActiveRules(ctx context.Context, datasetID string) ([]*Rule, error) {
	start := time.Now()
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE dataset_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		observe("list_active_rules", start, err)
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			observe("list_active_rules", start, err)
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	err = rows.Err()
	observe("list_active_rules", start, err)
	if err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func (r *PostgresRepository) CreateDataset(ctx context.Context, ds *Dataset) error {
	if err := ValidateDataset(ds); err != nil {
		return err
	}
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	start := time.Now()
	query := `
		INSERT INTO datasets (id, name, source_type, source_location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, ds.ID, ds.Name, ds.SourceType, ds.SourceLocation, ds.CreatedAt, ds.UpdatedAt)
	observe("create_dataset", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("dataset with name '%s' already exists", ds.Name))
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	start := time.Now()
	query := `
		INSERT INTO rules (id, name, rule_type, expression, severity, dataset_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.RuleType, rule.Expression, rule.Severity,
		rule.DatasetID, rule.Active, rule.CreatedAt, rule.UpdatedAt,
	)
	observe("create_rule", start, err)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return datasetNotFound(rule.DatasetID)
		}
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with id '%s' already exists", rule.ID))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetRuleActive(ctx context.Context, id string, active bool) error {
	start := time.Now()
	query := `UPDATE rules SET active = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	observe("set_rule_active", start, err)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ruleNotFound(id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
