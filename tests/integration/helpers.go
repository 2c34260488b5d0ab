package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchtower/internal/catalog"
	"watchtower/internal/constants"
	"watchtower/internal/logger"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
)

var monday = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func createTestDataset(t *testing.T, repo catalog.Repository, name, location string) *catalog.Dataset {
	t.Helper()
	ds := &catalog.Dataset{Name: name, SourceType: constants.SourceTypeCSV, SourceLocation: location}
	require.NoError(t, repo.CreateDataset(context.Background(), ds))
	return ds
}

func createTestRule(t *testing.T, repo catalog.Repository, ds *catalog.Dataset, name, expr string, active bool) *catalog.Rule {
	t.Helper()
	rule := &catalog.Rule{
		Name:       name,
		Expression: expr,
		Severity:   catalog.SeverityHigh,
		DatasetID:  ds.ID,
		Active:     active,
	}
	require.NoError(t, repo.CreateRule(context.Background(), rule))
	// created_at orders active rules, keep them distinct.
	time.Sleep(timestampDelay)
	return rule
}
