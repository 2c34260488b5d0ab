package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/catalog"
	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/evaluator"
	"watchtower/internal/incident"
	"watchtower/internal/run"
	"watchtower/internal/trend"
	"watchtower/pkg/retry"
)

func seedCustomers(t *testing.T, infra *TestInfra) {
	t.Helper()
	_, err := infra.PostgresDB.Exec(`
		CREATE TABLE customers (id INT4, email TEXT, score FLOAT8, country TEXT, vip BOOL);
		INSERT INTO customers VALUES
			(1, 'a@example.com', 0.5, 'DE', true),
			(2, NULL, 0.9, 'FR', false),
			(3, 'c@example.com', 1.5, 'XX', NULL);
		CREATE TABLE countries (code TEXT);
		INSERT INTO countries VALUES ('DE'), ('FR');
	`)
	require.NoError(t, err)
}

func TestPostgresTableLoader(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	seedCustomers(t, infra)
	ctx := context.Background()
	loader := dataset.NewPostgresTableLoader(infra.PostgresDB)

	table, err := loader.Load(ctx, dataset.Source{Type: constants.SourceTypeDatabase, Location: "public.customers"})
	require.NoError(t, err)
	assert.Equal(t, 3, table.RowCount())
	assert.Equal(t, []string{"id", "email", "score", "country", "vip"}, table.ColumnNames())

	id, err := table.Column("id")
	require.NoError(t, err)
	assert.Equal(t, dataset.KindInt, id.Kind)
	assert.Equal(t, dataset.IntCell(2), id.Cells[1])

	email, err := table.Column("email")
	require.NoError(t, err)
	assert.True(t, email.Cells[1].IsNull())

	vip, err := table.Column("vip")
	require.NoError(t, err)
	assert.Equal(t, dataset.KindBool, vip.Kind)
	assert.True(t, vip.Cells[2].IsNull())

	_, err = loader.Load(ctx, dataset.Source{Type: constants.SourceTypeDatabase, Location: "missing_table"})
	var loadErr *dataset.DatasetLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.False(t, loadErr.Retryable)

	_, err = loader.Load(ctx, dataset.Source{Type: constants.SourceTypeDatabase, Location: "customers; DROP TABLE countries"})
	require.Error(t, err)
}

func TestEngine_PostgresBackedRuns(t *testing.T) {
	infra := SetupTestInfra(t, WithPostgres())
	seedCustomers(t, infra)
	ctx := context.Background()
	log := createTestLogger()
	clock := func() time.Time { return monday }

	cat := catalog.NewPostgresRepository(infra.PostgresDB)
	runs := run.NewPostgresRepository(infra.PostgresDB)
	incidents := incident.NewService(incident.NewPostgresRepository(infra.PostgresDB), nil, log, incident.WithClock(clock))
	trends := trend.NewAggregator(trend.NewMemoryRepository())

	loader := dataset.NewRetryingLoader(
		dataset.NewRouter(dataset.NewFileLoader(),
			dataset.WithDatabaseLoader(dataset.NewPostgresTableLoader(infra.PostgresDB))),
		retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		log,
	)
	coord := run.NewCoordinator(runs, loader, log,
		run.WithClock(clock),
		run.WithReferences(cat),
		run.WithTrends(trends),
		run.WithIncidents(incidents),
	)
	dispatcher := run.NewDispatcher(cat, coord, log, run.WithDispatchClock(clock))

	customers := &catalog.Dataset{Name: "customers", SourceType: constants.SourceTypeDatabase, SourceLocation: "customers"}
	require.NoError(t, cat.CreateDataset(ctx, customers))
	countries := &catalog.Dataset{Name: "countries", SourceType: constants.SourceTypeDatabase, SourceLocation: "countries"}
	require.NoError(t, cat.CreateDataset(ctx, countries))

	createTestRule(t, cat, customers, "email present", "NOT_NULL(email)", true)
	createTestRule(t, cat, customers, "unique id", "UNIQUE(id)", true)
	createTestRule(t, cat, customers, "score range", "IN_RANGE(score, 0, 1)", true)
	createTestRule(t, cat, customers, "known country", "FOREIGN_KEY(country, countries, code)", true)

	batch, err := dispatcher.RunDataset(ctx, customers.ID, monday)
	require.NoError(t, err)
	require.Len(t, batch.Runs, 4)
	assert.Zero(t, batch.Failed())

	failing := 0
	for _, rr := range batch.Runs {
		assert.Empty(t, rr.Error)
		require.NotNil(t, rr.Result)
		assert.Equal(t, run.StatusCompleted, rr.Result.Status)
		assert.Equal(t, evaluator.OutcomeEvaluated, rr.Result.Outcome)
		if rr.Result.FailedCount > 0 {
			failing++
		}
	}

	assert.Equal(t, 3, failing)

	// Re-running the same batch returns the stored runs.
	again, err := dispatcher.RunDataset(ctx, customers.ID, monday)
	require.NoError(t, err)
	for i, rr := range again.Runs {
		assert.Equal(t, batch.Runs[i].Result.RunID, rr.Result.RunID)
	}

	stored, err := runs.ListByDataset(ctx, customers.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	open, err := incidents.List(ctx, incident.ListFilter{DatasetID: customers.ID, Status: incident.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	tr, err := trends.Get(ctx, customers.ID)
	require.NoError(t, err)
	require.Len(t, tr.Days, 1)
	assert.Equal(t, 1, tr.Days[0].PassedRuns)
	assert.Equal(t, 3, tr.Days[0].FailedRuns)
}
