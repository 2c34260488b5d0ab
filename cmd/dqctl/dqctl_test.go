package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/evaluator"
	"watchtower/internal/logger"
	"watchtower/internal/run"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunCheck(t *testing.T) {
	dir := t.TempDir()
	users := writeFile(t, dir, "users.csv", "id,email,country\n1,a@example.com,US\n2,,FR\n3,c@example.com,XX\n")
	countries := writeFile(t, dir, "countries.csv", "code\nUS\nFR\n")

	reports, err := runCheck(context.Background(), checkOptions{
		Data: users,
		Rules: []string{
			"NOT_NULL(email)",
			"UNIQUE(id)",
			"FOREIGN_KEY(country, countries, code)",
			"FOREIGN_KEY(country, regions, code)",
			"NOT_NULL(phone)",
			"NOT_A_RULE",
		},
		Refs:      []string{"countries=" + countries},
		StartedAt: "2024-01-15T10:30:00Z",
		SampleCap: 5,
	}, logger.NopLogger())
	require.NoError(t, err)
	require.Len(t, reports, 6)

	assert.Equal(t, run.StatusCompleted, reports[0].Result.Status)
	assert.Equal(t, 1, reports[0].Result.FailedCount)
	assert.NotEmpty(t, reports[0].Result.Evidence)

	assert.Zero(t, reports[1].Result.FailedCount)
	assert.Empty(t, reports[1].Error)

	assert.Equal(t, 1, reports[2].Result.FailedCount)
	assert.Equal(t, evaluator.OutcomeEvaluated, reports[2].Result.Outcome)

	assert.Equal(t, evaluator.OutcomeNotImplemented, reports[3].Result.Outcome)
	assert.Zero(t, reports[3].Result.FailedCount)

	assert.Equal(t, run.StatusFailed, reports[4].Result.Status)
	assert.Contains(t, reports[4].Error, "phone")

	assert.Nil(t, reports[5].Result)
	assert.NotEmpty(t, reports[5].Error)
}

func TestRunCheckInvalidOptions(t *testing.T) {
	dir := t.TempDir()
	users := writeFile(t, dir, "users.csv", "id\n1\n")

	_, err := runCheck(context.Background(), checkOptions{Data: users, Rules: []string{"UNIQUE(id)"}, Refs: []string{"nopath"}}, logger.NopLogger())
	assert.Error(t, err)

	_, err = runCheck(context.Background(), checkOptions{Data: users, Rules: []string{"UNIQUE(id)"}, StartedAt: "yesterday"}, logger.NopLogger())
	assert.Error(t, err)
}

func TestCheckCommandExitStatus(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	users := writeFile(t, dir, "users.csv", "id,email\n1,a@example.com\n2,\n")

	tests := []struct {
		name    string
		rule    string
		wantErr error
		output  string
	}{
		{"passing rule", "UNIQUE(id)", nil, "PASS  UNIQUE(id)  2 rows"},
		{"failing rule", "NOT_NULL(email)", errViolations, "FAIL  NOT_NULL(email)  1 of 2 rows failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"check", "--data", users, "--rule", tt.rule})

			err := cmd.Execute()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), tt.output)
		})
	}
}

func TestParseCommand(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	assert.True(t, printParse(&out, "IN_RANGE( age , 18, 65 )"))
	assert.Contains(t, out.String(), "VALID   IN_RANGE(age, 18, 65)")
	assert.Contains(t, out.String(), "function: IN_RANGE  columns: age")

	out.Reset()
	assert.False(t, printParse(&out, "REGEX(email)"))
	assert.Contains(t, out.String(), "INVALID REGEX(email)")

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"parse", "UNIQUE(id)", "BOGUS(x)"})
	assert.EqualError(t, cmd.Execute(), "1 of 2 expressions are invalid")
}
