package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/incident"
	pkgerrors "watchtower/pkg/errors"
)

func failure(runID string) incident.Failure {
	return incident.Failure{
		RuleID:    "rule-1",
		RuleName:  "email present",
		RuleType:  "NOT_NULL",
		DatasetID: "ds-1",
		RunID:     runID,
		Severity:  "HIGH",
		Failed:    2,
		Total:     10,
	}
}

func TestIncidentRepository_OpenOrTouch(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	ctx := context.Background()
	svc := incident.NewService(incident.NewPostgresRepository(infra.PostgresDB), nil, createTestLogger(),
		incident.WithClock(func() time.Time { return monday }))

	first, created, err := svc.Raise(ctx, failure("run-1"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, incident.StatusOpen, first.Status)
	assert.Equal(t, "Rule failed: email present", first.Title)
	assert.Equal(t, "Rule email present failed on 2 out of 10 rows", first.Description)

	second, created, err := svc.Raise(ctx, failure("run-2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "run-1", second.RunID)

	open, err := svc.List(ctx, incident.ListFilter{Status: incident.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestIncidentRepository_ConcurrentRaise(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	ctx := context.Background()
	svc := incident.NewService(incident.NewPostgresRepository(infra.PostgresDB), nil, createTestLogger())

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.Raise(ctx, failure("run-1"))
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestIncidentRepository_Lifecycle(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	ctx := context.Background()
	svc := incident.NewService(incident.NewPostgresRepository(infra.PostgresDB), nil, createTestLogger())

	inc, _, err := svc.Raise(ctx, failure("run-1"))
	require.NoError(t, err)

	acked, err := svc.Acknowledge(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	// Still unresolved, so another failure touches it.
	touched, created, err := svc.Raise(ctx, failure("run-2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, inc.ID, touched.ID)

	resolved, err := svc.Resolve(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = svc.Mute(ctx, inc.ID)
	assert.True(t, pkgerrors.IsConflict(err))

	reopened, created, err := svc.Raise(ctx, failure("run-3"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, inc.ID, reopened.ID)

	all, err := svc.List(ctx, incident.ListFilter{RuleID: "rule-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestIncidentRepository_PolicySuppresses(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	ctx := context.Background()

	policy, err := incident.NewPolicy(`severity == "HIGH" && failed_count > 5`)
	require.NoError(t, err)
	svc := incident.NewService(incident.NewPostgresRepository(infra.PostgresDB), policy, createTestLogger())

	inc, created, err := svc.Raise(ctx, failure("run-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, inc)

	f := failure("run-2")
	f.Failed = 6
	inc, created, err = svc.Raise(ctx, f)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, inc)
}
