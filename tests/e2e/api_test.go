package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/api"
	"watchtower/internal/catalog"
	"watchtower/internal/run"
)

// These tests run against a deployed engine-service. Point
// WATCHTOWER_URL at it; they are skipped otherwise.
func engineURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests skipped in -short mode")
	}
	url := os.Getenv("WATCHTOWER_URL")
	if url == "" {
		t.Skip("WATCHTOWER_URL not set")
	}
	return strings.TrimSuffix(url, "/")
}

var client = &http.Client{Timeout: 30 * time.Second}

func TestEngineHealth(t *testing.T) {
	base := engineURL(t)

	resp, err := client.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.NotNil(t, health["status"])

	metrics, err := client.Get(base + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestParseRule(t *testing.T) {
	base := engineURL(t)

	var parsed api.ParseRuleResponse
	status := doJSON(t, http.MethodPost, base+"/api/v1/rules/parse",
		api.ParseRuleRequest{Expression: "IN_RANGE( age , 0 , 120 )"}, &parsed)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "IN_RANGE(age, 0, 120)", parsed.Canonical)

	var failure map[string]interface{}
	status = doJSON(t, http.MethodPost, base+"/api/v1/rules/parse",
		api.ParseRuleRequest{Expression: "NOT_NULL("}, &failure)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_RULE", failure["error_code"])
}

func TestCatalogAndRunLifecycle(t *testing.T) {
	base := engineURL(t)
	suffix := uuid.New().String()[:8]

	var ds catalog.Dataset
	status := doJSON(t, http.MethodPost, base+"/api/v1/datasets", api.CreateDatasetRequest{
		Name:           "e2e_users_" + suffix,
		SourceLocation: "/nonexistent/e2e_users.csv",
	}, &ds)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, ds.ID)

	var rule catalog.Rule
	status = doJSON(t, http.MethodPost, base+"/api/v1/rules", api.CreateRuleRequest{
		Name:       "email present",
		Expression: "NOT_NULL(email)",
		DatasetID:  ds.ID,
	}, &rule)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, rule.Active)
	assert.Equal(t, catalog.SeverityMedium, rule.Severity)

	startedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	var failed map[string]json.RawMessage
	status = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/rules/%s/runs", base, rule.ID),
		api.RunRequest{StartedAt: &startedAt}, &failed)
	assert.Equal(t, http.StatusBadGateway, status)

	var stored run.Result
	require.NoError(t, json.Unmarshal(failed["run"], &stored))
	assert.Equal(t, run.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	// The failed run is terminal; asking again returns it.
	var fetched run.Result
	status = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/runs/%s", base, stored.RunID), nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, stored.RunID, fetched.RunID)
	assert.Equal(t, run.StatusFailed, fetched.Status)

	var runs []run.Result
	status = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/datasets/%s/runs", base, ds.ID), nil, &runs)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, runs, 1)

	var updated catalog.Rule
	status = doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/v1/rules/%s/active", base, rule.ID),
		api.SetActiveRequest{Active: boolPtr(false)}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, updated.Active)
}

func TestValidationErrors(t *testing.T) {
	base := engineURL(t)

	status := doJSON(t, http.MethodPost, base+"/api/v1/datasets", api.CreateDatasetRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodGet, base+"/api/v1/incidents?status=CLOSED", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodGet, base+"/api/v1/runs/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func doJSON(t *testing.T, method, url string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, out), string(raw))
		}
	}
	return resp.StatusCode
}

func boolPtr(b bool) *bool {
	return &b
}
