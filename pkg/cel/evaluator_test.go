package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "default policy",
			expr:      DefaultPolicy,
			wantError: false,
		},
		{
			name:      "rate comparison",
			expr:      `failure_rate > 0.5`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `failed_count + 1`,
			wantError: true,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `payload.status == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProgramEval(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	facts := Facts{
		FailedCount: 12,
		TotalRows:   100,
		Severity:    "HIGH",
		RuleType:    "NOT_NULL",
		RuleName:    "email present",
		DatasetID:   "prod-users",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"default policy", DefaultPolicy, true},
		{"rate above threshold", `failure_rate > 0.1`, true},
		{"rate below threshold", `failure_rate > 0.2`, false},
		{"severity gate", `severity == "LOW"`, false},
		{"rule type", `rule_type != "UNIQUE"`, true},
		{"dataset prefix", `dataset_id.startsWith("prod-")`, true},
		{"rule name", `rule_name.contains("email")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program, err := eval.Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, program.Expression())

			got, err := program.Eval(ctx, facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgramEval_EmptyRun(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.Compile(`failure_rate == 0.0 && failed_count == 0`)
	require.NoError(t, err)

	got, err := program.Eval(context.Background(), Facts{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPolicyExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range PolicyExamples {
		t.Run(name, func(t *testing.T) {
			_, err := eval.Compile(expr)
			assert.NoError(t, err)
		})
	}
}
