package blob

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/circuitbreaker"
)

type flakyStore struct {
	err   error
	calls int
}

func (f *flakyStore) Get(_ context.Context, _, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func (f *flakyStore) Put(_ context.Context, _, _ string, _ []byte, _ string) error {
	f.calls++
	return f.err
}

func breakerConfig(name string) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: circuitbreaker.RatioTrip(2, 0.5),
	}
}

func TestCircuitBreakerStore_TripsOnOutage(t *testing.T) {
	inner := &flakyStore{err: errors.New("connection refused")}
	store := NewCircuitBreakerStore(inner, breakerConfig("blob-outage-test"))

	for i := 0; i < 2; i++ {
		_, err := store.Get(context.Background(), "b", "k")
		require.Error(t, err)
	}

	_, err := store.Get(context.Background(), "b", "k")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCircuitBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	inner := &flakyStore{err: fmt.Errorf("%w: missing", ErrNotFound)}
	store := NewCircuitBreakerStore(inner, breakerConfig("blob-notfound-test"))

	for i := 0; i < 4; i++ {
		_, err := store.Get(context.Background(), "b", "k")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 4, inner.calls)
}

func TestParseURI(t *testing.T) {
	bucket, key, ok := ParseURI("s3://datasets/sales/2024.csv")
	require.True(t, ok)
	assert.Equal(t, "datasets", bucket)
	assert.Equal(t, "sales/2024.csv", key)

	for _, bad := range []string{"/tmp/x.csv", "s3://bucket", "s3:///key", "s3://bucket/"} {
		_, _, ok := ParseURI(bad)
		assert.False(t, ok, bad)
	}

	assert.Equal(t, "s3://b/k", URI("b", "k"))
}
