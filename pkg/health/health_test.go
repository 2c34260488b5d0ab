package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                  { return s.name }
func (s stubChecker) Check(_ context.Context) error { return s.err }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		required error
		optional error
		want     Status
	}{
		{"all healthy", nil, nil, StatusHealthy},
		{"optional down", nil, errors.New("mongo down"), StatusDegraded},
		{"required down", errors.New("pg down"), nil, StatusUnhealthy},
		{"both down", errors.New("pg down"), errors.New("mongo down"), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			r.Register(stubChecker{name: "postgresql", err: tt.required})
			r.RegisterOptional(stubChecker{name: "mongodb", err: tt.optional})

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, 2)
			if tt.optional != nil {
				assert.Equal(t, StatusDegraded, h.Checks["mongodb"].Status)
				assert.Equal(t, tt.optional.Error(), h.Checks["mongodb"].Message)
			}
		})
	}
}

func TestCheckerRegistry_TimesOutSlowStore(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(pingChecker{name: "postgresql", ping: func(context.Context) error { return nil }})
	r.RegisterOptional(pingChecker{name: "mongodb", ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := r.Check(ctx)

	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, StatusHealthy, h.Checks["postgresql"].Status)
	assert.Contains(t, h.Checks["mongodb"].Message, "mongodb: context canceled")
}
