// Package run executes a rule against a dataset exactly once per identity,
// persists the outcome and fans completed runs out to trends and incidents.
package run

import (
	"encoding/json"
	"fmt"
	"time"

	"watchtower/internal/catalog"
	"watchtower/internal/evaluator"
	pkgerrors "watchtower/pkg/errors"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Result struct {
	RunID       string            `json:"run_id"`
	RuleID      string            `json:"rule_id"`
	DatasetID   string            `json:"dataset_id"`
	Status      Status            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	TotalRows   int               `json:"total_rows"`
	PassedCount int               `json:"passed_count"`
	FailedCount int               `json:"failed_count"`
	Outcome     evaluator.Outcome `json:"outcome,omitempty"`
	Evidence    json.RawMessage   `json:"evidence,omitempty"`
	EvidenceRef string            `json:"evidence_ref,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Request is one execution of Rule against Dataset. A zero StartedAt means
// now.
type Request struct {
	Rule      *catalog.Rule
	Dataset   *catalog.Dataset
	StartedAt time.Time
}

func (r Request) validate() error {
	if r.Rule == nil || r.Dataset == nil {
		return pkgerrors.ErrValidation.WithDetail("message", "rule and dataset are required")
	}
	if r.Rule.DatasetID != "" && r.Rule.DatasetID != r.Dataset.ID {
		return pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("rule %s belongs to dataset %s, not %s", r.Rule.ID, r.Rule.DatasetID, r.Dataset.ID))
	}
	return nil
}

func notFound(runID string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("run %s not found", runID))
}

func alreadyFinished(runID string) error {
	return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("run %s is no longer running", runID))
}
