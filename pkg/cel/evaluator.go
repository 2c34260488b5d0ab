package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Facts are the variables visible to a run policy expression.
type Facts struct {
	FailedCount int
	TotalRows   int
	Severity    string
	RuleType    string
	RuleName    string
	DatasetID   string
}

func (f Facts) vars() map[string]interface{} {
	rate := 0.0
	if f.TotalRows > 0 {
		rate = float64(f.FailedCount) / float64(f.TotalRows)
	}
	return map[string]interface{}{
		"failed_count": int64(f.FailedCount),
		"total_rows":   int64(f.TotalRows),
		"failure_rate": rate,
		"severity":     f.Severity,
		"rule_type":    f.RuleType,
		"rule_name":    f.RuleName,
		"dataset_id":   f.DatasetID,
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("failed_count", cel.IntType),
		cel.Variable("total_rows", cel.IntType),
		cel.Variable("failure_rate", cel.DoubleType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("rule_type", cel.StringType),
		cel.Variable("rule_name", cel.StringType),
		cel.Variable("dataset_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateExpression checks that expression compiles and yields a bool.
func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// Program is a compiled policy expression, safe for concurrent use.
type Program struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) Compile(expression string) (*Program, error) {
	ast, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{expression: expression, program: program}, nil
}

func (p *Program) Expression() string {
	return p.expression
}

func (p *Program) Eval(ctx context.Context, facts Facts) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, facts.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
