package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/config"
	pkgerrors "watchtower/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("file not found"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonoursAppErrorClassification(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return pkgerrors.ErrEvaluation.WithCause(errors.New("column missing"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return pkgerrors.ErrDatasetLoad
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithCallback_ReportsAttempts(t *testing.T) {
	var attempts []int
	_ = RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("timeout")
	}, func(attempt int, err error, _ time.Duration) {
		attempts = append(attempts, attempt)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastPolicy(10), func() error {
		calls++
		return errors.New("unavailable")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10))

	flat := Policy{InitialInterval: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, flat.Delay(3))
}

func TestFromConfig(t *testing.T) {
	policy := FromConfig(config.RetryConfig{MaxAttempts: 5, InitialInterval: 200 * time.Millisecond})

	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, policy.InitialInterval)
	assert.Equal(t, DefaultPolicy().MaxInterval, policy.MaxInterval)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Zero(t, policy.MaxElapsedTime)
}
