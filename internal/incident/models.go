// Package incident tracks ongoing rule failures. At most one non-resolved
// incident exists per rule and dataset; repeated failures touch it instead
// of opening another.
package incident

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "watchtower/pkg/errors"
)

type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusMuted        Status = "MUTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusMuted:
		return true
	}
	return false
}

// IsOpen reports whether s blocks a new incident for the same rule and
// dataset.
func (s Status) IsOpen() bool {
	return s != StatusResolved
}

type Incident struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	DatasetID      string          `json:"dataset_id"`
	RunID          string          `json:"run_id"`
	Severity       string          `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Evidence       json.RawMessage `json:"evidence,omitempty"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Failure describes a completed run with failing rows.
type Failure struct {
	RuleID    string
	RuleName  string
	RuleType  string
	DatasetID string
	RunID     string
	Severity  string
	Failed    int
	Total     int
	Evidence  json.RawMessage
}

func (f Failure) Title() string {
	return fmt.Sprintf("Rule failed: %s", f.RuleName)
}

func (f Failure) Description() string {
	return fmt.Sprintf("Rule %s failed on %d out of %d rows", f.RuleName, f.Failed, f.Total)
}

type ListFilter struct {
	Status    Status
	DatasetID string
	RuleID    string
	Limit     int
	Offset    int
}

// applyTransition moves inc to status at now. The first acknowledgement and
// resolution timestamps are kept.
func applyTransition(inc *Incident, to Status, now time.Time) error {
	if !to.Valid() {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid incident status %q", to))
	}
	if inc.Status == to {
		return nil
	}
	if inc.Status == StatusResolved {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("incident %s is resolved", inc.ID))
	}
	if to == StatusOpen {
		return pkgerrors.ErrConflict.WithDetail("message", "incidents cannot be reopened")
	}

	inc.Status = to
	inc.UpdatedAt = now
	switch to {
	case StatusAcknowledged:
		if inc.AcknowledgedAt == nil {
			inc.AcknowledgedAt = &now
		}
	case StatusResolved:
		if inc.ResolvedAt == nil {
			inc.ResolvedAt = &now
		}
	}
	return nil
}

func notFound(id string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("incident %s not found", id))
}
