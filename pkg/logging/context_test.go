package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRule(ctx, "rule-7", "ds-3")
	ctx = WithRunID(ctx, "abc123")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"run_id", "abc123",
		"rule_id", "rule-7",
		"dataset_id", "ds-3",
	}, GetLogFields(ctx))
	assert.Equal(t, "ds-3", GetDatasetID(ctx))
}

func TestContextKeysDoNotCollideWithPlainStrings(t *testing.T) {
	//nolint:staticcheck
	ctx := context.WithValue(context.Background(), RunIDKey, "plain")
	assert.Empty(t, GetRunID(ctx))
}

func TestEarlyLogFatalExits(t *testing.T) {
	var out bytes.Buffer
	code := -1
	l := &EarlyLog{stdout: &out, stderr: &out, exit: func(c int) { code = c }}

	l.Info("starting %s", "engine")
	l.Fatal("boom")

	assert.Equal(t, 1, code)
	assert.Equal(t, "INFO: starting engine\nFATAL: boom\n", out.String())
}
