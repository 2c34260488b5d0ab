package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"watchtower/pkg/logging"
)

func TestInfowCtxAddsRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewFromCore(core, "engine")

	ctx := logging.WithRunID(logging.WithRule(context.Background(), "r1", "d1"), "run-1")
	log.InfowCtx(ctx, "run completed", "failed", 3)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "r1", fields["rule_id"])
	assert.Equal(t, "d1", fields["dataset_id"])
	assert.Equal(t, "engine", fields["service_name"])
	assert.EqualValues(t, 3, fields["failed"])
}

func TestDebugFilteredAtInfo(t *testing.T) {
	core, logs := observer.New(parseLevel("info"))
	log := NewFromCore(core, "")

	log.DebugwCtx(context.Background(), "hidden")
	log.WarnwCtx(context.Background(), "shown")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNewWithFormat(t *testing.T) {
	log, err := NewWithFormat("warn", "console")
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestWithKeepsFieldsAndServiceName(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewFromCore(core, "engine").With("component", "coordinator")

	log.InfowCtx(logging.WithRunID(context.Background(), "run-9"), "run started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "coordinator", fields["component"])
	assert.Equal(t, "engine", fields["service_name"])
	assert.Equal(t, "run-9", fields["run_id"])
}
