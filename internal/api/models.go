package api

import (
	"time"

	"watchtower/internal/catalog"
	"watchtower/internal/dsl"
)

type ParseRuleRequest struct {
	Expression string `json:"expression" binding:"required"`
}

type ParseRuleResponse struct {
	Valid     bool         `json:"valid"`
	Function  dsl.Function `json:"function"`
	Columns   []string     `json:"columns"`
	Canonical string       `json:"canonical"`
}

// RunRequest pins the run identity. Without StartedAt the run starts now.
type RunRequest struct {
	StartedAt *time.Time `json:"started_at"`
}

type CreateDatasetRequest struct {
	Name           string `json:"name" binding:"required"`
	SourceType     string `json:"source_type"`
	SourceLocation string `json:"source_location" binding:"required"`
}

type CreateRuleRequest struct {
	Name       string           `json:"name" binding:"required"`
	Expression string           `json:"expression" binding:"required"`
	RuleType   dsl.Function     `json:"rule_type"`
	Severity   catalog.Severity `json:"severity"`
	DatasetID  string           `json:"dataset_id" binding:"required"`
	Active     *bool            `json:"active"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}
