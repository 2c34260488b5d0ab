package models

import "time"

const (
	MessageTypeExecutionRequest = "execution.requested"
	MessageTypeRunFinished      = "run.finished"
	MessageTypeIncidentRaised   = "incident.raised"

	// MessageTypeUndecodable marks dead-lettered bytes that were not an
	// envelope at all.
	MessageTypeUndecodable = "undecodable"
)

// ExecutionRequest asks the engine to run one rule, or every active rule of a
// dataset when RuleID is empty. StartedAt pins the run identity so that a
// redelivered request maps to the same run.
type ExecutionRequest struct {
	RuleID    string     `json:"rule_id,omitempty"`
	DatasetID string     `json:"dataset_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type RunFinishedEvent struct {
	RunID       string    `json:"run_id"`
	RuleID      string    `json:"rule_id"`
	DatasetID   string    `json:"dataset_id"`
	Status      string    `json:"status"`
	TotalRows   int       `json:"total_rows"`
	PassedCount int       `json:"passed_count"`
	FailedCount int       `json:"failed_count"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

type IncidentRaisedEvent struct {
	IncidentID string `json:"incident_id"`
	RunID      string `json:"run_id"`
	RuleID     string `json:"rule_id"`
	DatasetID  string `json:"dataset_id"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	// Created is false when an already open incident was touched.
	Created bool `json:"created"`
}
