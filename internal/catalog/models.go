// Package catalog is the read model of datasets and the rules attached to
// them.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
	pkgerrors "watchtower/pkg/errors"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

type Rule struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	RuleType   dsl.Function `json:"rule_type"`
	Expression string       `json:"expression"`
	Severity   Severity     `json:"severity"`
	DatasetID  string       `json:"dataset_id"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type Dataset struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SourceType     string    `json:"source_type"`
	SourceLocation string    `json:"source_location"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (d *Dataset) Source() dataset.Source {
	return dataset.Source{Type: d.SourceType, Location: d.SourceLocation}
}

// ValidateRule checks a rule definition before it is stored. The expression
// must parse and bind, and its function must match RuleType.
func ValidateRule(rule *Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "rule name is required")
	}
	if rule.DatasetID == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "dataset_id is required")
	}
	if rule.Severity == "" {
		rule.Severity = SeverityMedium
	}
	if !rule.Severity.Valid() {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid severity %q", rule.Severity))
	}

	parsed, err := dsl.ParseRule(rule.Expression)
	if err != nil {
		return pkgerrors.ErrInvalidRule.WithCause(err).WithDetail("message", err.Error())
	}

	if rule.RuleType == "" {
		rule.RuleType = parsed.Function()
	}
	if parsed.Function() != rule.RuleType {
		return pkgerrors.ErrInvalidRule.WithDetail("message",
			fmt.Sprintf("rule type %s does not match expression function %s", rule.RuleType, parsed.Function()))
	}
	return nil
}

func ValidateDataset(ds *Dataset) error {
	if strings.TrimSpace(ds.Name) == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "dataset name is required")
	}
	ds.SourceType = strings.ToUpper(ds.SourceType)
	if ds.SourceType == "" {
		ds.SourceType = constants.SourceTypeCSV
	}
	if ds.SourceType != constants.SourceTypeCSV && ds.SourceType != constants.SourceTypeDatabase {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unsupported source type %q", ds.SourceType))
	}
	if strings.TrimSpace(ds.SourceLocation) == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "source_location is required")
	}
	return nil
}

func ruleNotFound(id string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("rule %s not found", id))
}

func datasetNotFound(key string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("dataset %s not found", key))
}
