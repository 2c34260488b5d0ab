package incident

import (
	"context"
	"fmt"

	"watchtower/pkg/cel"
)

// Policy decides whether a failing run raises an incident.
type Policy struct {
	program *cel.Program
}

// NewPolicy compiles expression. An empty expression raises on every
// failing run, and a preset name such as "high_severity_only" selects the
// matching entry of cel.PolicyExamples.
func NewPolicy(expression string) (*Policy, error) {
	if expression == "" {
		expression = cel.DefaultPolicy
	}
	if preset, ok := cel.PolicyExamples[expression]; ok {
		expression = preset
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	program, err := evaluator.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid incident policy: %w", err)
	}
	return &Policy{program: program}, nil
}

func (p *Policy) Expression() string {
	return p.program.Expression()
}

func (p *Policy) ShouldRaise(ctx context.Context, f Failure) (bool, error) {
	return p.program.Eval(ctx, cel.Facts{
		FailedCount: f.Failed,
		TotalRows:   f.Total,
		Severity:    f.Severity,
		RuleType:    f.RuleType,
		RuleName:    f.RuleName,
		DatasetID:   f.DatasetID,
	})
}
