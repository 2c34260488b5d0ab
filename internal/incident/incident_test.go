package incident

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/logger"
	pkgerrors "watchtower/pkg/errors"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, policy string) (*Service, *MemoryRepository, *fakeClock) {
	t.Helper()
	p, err := NewPolicy(policy)
	require.NoError(t, err)

	repo := NewMemoryRepository()
	clock := &fakeClock{t: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	return NewService(repo, p, logger.NopLogger(), WithClock(clock.now)), repo, clock
}

func failure(runID string, failed int) Failure {
	return Failure{
		RuleID:    "r1",
		RuleName:  "email present",
		RuleType:  "NOT_NULL",
		DatasetID: "d1",
		RunID:     runID,
		Severity:  "HIGH",
		Failed:    failed,
		Total:     10,
		Evidence:  json.RawMessage(`{"total_failed":2}`),
	}
}

func TestFailureText(t *testing.T) {
	f := failure("run-1", 2)
	assert.Equal(t, "Rule failed: email present", f.Title())
	assert.Equal(t, "Rule email present failed on 2 out of 10 rows", f.Description())
}

func TestRaiseOpensIncident(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	ctx := context.Background()

	inc, created, err := svc.Raise(ctx, failure("run-1", 2))
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.True(t, created)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, StatusOpen, inc.Status)
	assert.Equal(t, "run-1", inc.RunID)
	assert.Equal(t, "Rule failed: email present", inc.Title)
	assert.JSONEq(t, `{"total_failed":2}`, string(inc.Evidence))
}

func TestRaiseDeduplicatesOpenIncident(t *testing.T) {
	svc, _, clock := newTestService(t, "")
	ctx := context.Background()

	first, created, err := svc.Raise(ctx, failure("run-1", 2))
	require.NoError(t, err)
	require.True(t, created)

	clock.advance(time.Hour)
	second, created, err := svc.Raise(ctx, failure("run-2", 5))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "run-1", second.RunID)
	assert.Equal(t, clock.t, second.UpdatedAt)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	open, err := svc.List(ctx, ListFilter{Status: StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRaiseDeduplicatesAcknowledgedAndMuted(t *testing.T) {
	for _, status := range []Status{StatusAcknowledged, StatusMuted} {
		t.Run(string(status), func(t *testing.T) {
			svc, _, _ := newTestService(t, "")
			ctx := context.Background()

			first, _, err := svc.Raise(ctx, failure("run-1", 2))
			require.NoError(t, err)
			_, err = svc.transition(ctx, first.ID, status)
			require.NoError(t, err)

			second, created, err := svc.Raise(ctx, failure("run-2", 2))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, status, second.Status)
		})
	}
}

func TestRaiseAfterResolveOpensNewIncident(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	ctx := context.Background()

	first, _, err := svc.Raise(ctx, failure("run-1", 2))
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, first.ID)
	require.NoError(t, err)

	second, created, err := svc.Raise(ctx, failure("run-2", 2))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRaiseSkipsPassingRuns(t *testing.T) {
	svc, repo, _ := newTestService(t, "")

	inc, created, err := svc.Raise(context.Background(), failure("run-1", 0))
	require.NoError(t, err)
	assert.Nil(t, inc)
	assert.False(t, created)

	all, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRaiseRespectsPolicy(t *testing.T) {
	svc, _, _ := newTestService(t, `failure_rate > 0.5`)
	ctx := context.Background()

	inc, created, err := svc.Raise(ctx, failure("run-1", 2))
	require.NoError(t, err)
	assert.Nil(t, inc)
	assert.False(t, created)

	inc, created, err = svc.Raise(ctx, failure("run-2", 8))
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.True(t, created)
}

func TestNewPolicyRejectsInvalidExpression(t *testing.T) {
	_, err := NewPolicy(`failed_count +`)
	assert.Error(t, err)

	_, err = NewPolicy(`failed_count`)
	assert.Error(t, err)
}

func TestTransitions(t *testing.T) {
	svc, _, clock := newTestService(t, "")
	ctx := context.Background()

	inc, _, err := svc.Raise(ctx, failure("run-1", 2))
	require.NoError(t, err)

	clock.advance(time.Minute)
	acked, err := svc.Acknowledge(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	ackTime := *acked.AcknowledgedAt
	assert.Equal(t, clock.t, ackTime)

	clock.advance(time.Minute)
	muted, err := svc.Mute(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMuted, muted.Status)

	clock.advance(time.Minute)
	again, err := svc.Acknowledge(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, ackTime, *again.AcknowledgedAt)

	clock.advance(time.Minute)
	resolved, err := svc.Resolve(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, clock.t, *resolved.ResolvedAt)

	_, err = svc.Acknowledge(ctx, inc.ID)
	assert.True(t, pkgerrors.IsConflict(err))

	same, err := svc.Resolve(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, same.Status)
}

func TestApplyTransition(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr func(error) bool
	}{
		{name: "open to acknowledged", from: StatusOpen, to: StatusAcknowledged},
		{name: "open to muted", from: StatusOpen, to: StatusMuted},
		{name: "open to resolved", from: StatusOpen, to: StatusResolved},
		{name: "muted to resolved", from: StatusMuted, to: StatusResolved},
		{name: "same status", from: StatusAcknowledged, to: StatusAcknowledged},
		{name: "reopen", from: StatusAcknowledged, to: StatusOpen, wantErr: pkgerrors.IsConflict},
		{name: "from resolved", from: StatusResolved, to: StatusMuted, wantErr: pkgerrors.IsConflict},
		{name: "unknown status", from: StatusOpen, to: "CLOSED", wantErr: pkgerrors.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := &Incident{ID: "i1", Status: tt.from}
			err := applyTransition(inc, tt.to, now)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err))
				assert.Equal(t, tt.from, inc.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, inc.Status)
		})
	}
}

func TestGetUnknownIncident(t *testing.T) {
	svc, _, _ := newTestService(t, "")

	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = svc.Resolve(context.Background(), "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestMemoryRepositoryListFilters(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, pair := range [][2]string{{"r1", "d1"}, {"r2", "d1"}, {"r3", "d2"}} {
		_, _, err := repo.OpenOrTouch(ctx, &Incident{
			RuleID:    pair[0],
			DatasetID: pair[1],
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	byDataset, err := repo.List(ctx, ListFilter{DatasetID: "d1"})
	require.NoError(t, err)
	require.Len(t, byDataset, 2)
	assert.Equal(t, "r2", byDataset[0].RuleID)

	byRule, err := repo.List(ctx, ListFilter{RuleID: "r3"})
	require.NoError(t, err)
	assert.Len(t, byRule, 1)

	paged, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "r2", paged[0].RuleID)

	empty, err := repo.List(ctx, ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentRaiseOpensOneIncident(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Raise(ctx, failure("run", 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewPolicyPreset(t *testing.T) {
	p, err := NewPolicy("high_severity_only")
	require.NoError(t, err)
	assert.Equal(t, `failed_count > 0 && severity == "HIGH"`, p.Expression())

	ok, err := p.ShouldRaise(context.Background(), Failure{Failed: 3, Total: 10, Severity: "MEDIUM"})
	require.NoError(t, err)
	assert.False(t, ok)
}
