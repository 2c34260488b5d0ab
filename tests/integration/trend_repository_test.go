package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/trend"
	"watchtower/pkg/migrations"
)

func TestTrendRepository_RecordCompletion(t *testing.T) {
	infra := SetupTestInfra(t, WithMongo())
	ctx := context.Background()

	require.NoError(t, migrations.EnsureTrendCollection(ctx, infra.MongoDB))
	// Index creation is idempotent.
	require.NoError(t, migrations.EnsureTrendCollection(ctx, infra.MongoDB))

	agg := trend.NewAggregator(trend.NewMongoRepository(infra.MongoDB))

	empty, err := agg.Get(ctx, "ds-1")
	require.NoError(t, err)
	assert.Empty(t, empty.Days)
	assert.Empty(t, empty.Rules)

	require.NoError(t, agg.RecordCompletion(ctx, trend.Completion{
		DatasetID: "ds-1", RuleID: "r1", RuleName: "email present", Passed: 9, Failed: 1, At: monday,
	}))
	require.NoError(t, agg.RecordCompletion(ctx, trend.Completion{
		DatasetID: "ds-1", RuleID: "r2", RuleName: "unique id", Passed: 10, At: monday.Add(time.Hour),
	}))
	require.NoError(t, agg.RecordCompletion(ctx, trend.Completion{
		DatasetID: "ds-1", RuleID: "r1", RuleName: "email present", Passed: 10, At: monday.Add(24 * time.Hour),
	}))

	got, err := agg.Get(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	require.Len(t, got.Days, 2)
	assert.Equal(t, trend.DailyBucket{Date: "2024-01-15", PassedRuns: 1, FailedRuns: 1}, got.Days[0])
	assert.Equal(t, trend.DailyBucket{Date: "2024-01-16", PassedRuns: 1}, got.Days[1])

	require.Len(t, got.Rules, 2)
	for _, r := range got.Rules {
		if r.RuleID == "r1" {
			assert.Equal(t, 2, r.TotalExecutions)
			assert.InDelta(t, 100.0, r.PassRate, 1e-9)
		}
	}
}

func TestTrendRepository_ConcurrentCompletions(t *testing.T) {
	infra := SetupTestInfra(t, WithMongo())
	ctx := context.Background()
	agg := trend.NewAggregator(trend.NewMongoRepository(infra.MongoDB))

	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := agg.RecordCompletion(ctx, trend.Completion{
				DatasetID: "ds-2",
				RuleID:    fmt.Sprintf("r%d", i),
				RuleName:  fmt.Sprintf("rule %d", i),
				Passed:    5,
				At:        monday,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := agg.Get(ctx, "ds-2")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.Version)
	require.Len(t, got.Days, 1)
	assert.Equal(t, writers, got.Days[0].PassedRuns)
	assert.Len(t, got.Rules, writers)
}
