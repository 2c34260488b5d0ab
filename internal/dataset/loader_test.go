package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/logger"
	"watchtower/pkg/retry"
)

func stubLoader(name string, calls *[]string) Loader {
	return LoaderFunc(func(_ context.Context, src Source) (*Table, error) {
		*calls = append(*calls, name+":"+src.Location)
		return MustTable(), nil
	})
}

func TestRouter(t *testing.T) {
	var calls []string
	router := NewRouter(
		stubLoader("file", &calls),
		WithObjectLoader(stubLoader("object", &calls)),
		WithDatabaseLoader(stubLoader("db", &calls)),
	)

	ctx := context.Background()
	for _, src := range []Source{
		{Type: "CSV", Location: "/data/a.csv"},
		{Type: "csv", Location: "s3://bucket/a.csv"},
		{Type: "DB", Location: "public.orders"},
	} {
		_, err := router.Load(ctx, src)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"file:/data/a.csv", "object:s3://bucket/a.csv", "db:public.orders"}, calls)
}

func TestRouter_Unconfigured(t *testing.T) {
	var calls []string
	router := NewRouter(stubLoader("file", &calls))

	for _, src := range []Source{
		{Type: "CSV", Location: "s3://bucket/a.csv"},
		{Type: "DB", Location: "orders"},
		{Type: "PARQUET", Location: "x.parquet"},
	} {
		_, err := router.Load(context.Background(), src)
		var loadErr *DatasetLoadError
		require.ErrorAs(t, err, &loadErr, src.String())
		assert.False(t, loadErr.IsRetryable())
	}
	assert.Empty(t, calls)
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetryingLoader_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	flaky := LoaderFunc(func(_ context.Context, src Source) (*Table, error) {
		attempts++
		if attempts < 3 {
			return nil, &DatasetLoadError{Source: src, Err: errors.New("timeout"), Retryable: true}
		}
		return MustTable(), nil
	})

	table, err := NewRetryingLoader(flaky, fastRetry(3), logger.NopLogger()).
		Load(context.Background(), Source{Type: "CSV", Location: "s3://b/k"})
	require.NoError(t, err)
	assert.NotNil(t, table)
	assert.Equal(t, 3, attempts)
}

func TestRetryingLoader_StopsOnPermanentErrors(t *testing.T) {
	attempts := 0
	broken := LoaderFunc(func(_ context.Context, src Source) (*Table, error) {
		attempts++
		return nil, &DatasetLoadError{Source: src, Err: errors.New("no such file"), Retryable: false}
	})

	_, err := NewRetryingLoader(broken, fastRetry(5), logger.NopLogger()).
		Load(context.Background(), Source{Type: "CSV", Location: "/missing.csv"})

	var loadErr *DatasetLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 1, attempts)
}

func TestRetryingLoader_WrapsUnclassifiedErrors(t *testing.T) {
	attempts := 0
	broken := LoaderFunc(func(context.Context, Source) (*Table, error) {
		attempts++
		return nil, errors.New("boom")
	})

	_, err := NewRetryingLoader(broken, fastRetry(2), logger.NopLogger()).
		Load(context.Background(), Source{Type: "DB", Location: "orders"})

	var loadErr *DatasetLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 2, attempts)
	assert.EqualError(t, loadErr.Err, "boom")
}
