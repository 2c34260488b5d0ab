package incident

import (
	"context"
	"fmt"
	"time"

	"watchtower/internal/logger"
	"watchtower/pkg/metrics"
)

type Service struct {
	repo   Repository
	policy *Policy
	log    logger.Logger
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds the incident service. A nil policy raises on every
// failing run.
func NewService(repo Repository, policy *Policy, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise opens an incident for f, or touches the one already open for the
// same rule and dataset. It returns a nil incident when f has no failing
// rows or the policy suppresses it.
func (s *Service) Raise(ctx context.Context, f Failure) (*Incident, bool, error) {
	if f.Failed <= 0 {
		return nil, false, nil
	}

	if s.policy != nil {
		raise, err := s.policy.ShouldRaise(ctx, f)
		if err != nil {
			return nil, false, fmt.Errorf("failed to evaluate incident policy: %w", err)
		}
		if !raise {
			metrics.IncIncident("suppressed", f.Severity)
			s.log.DebugwCtx(ctx, "Incident suppressed by policy",
				"policy", s.policy.Expression(),
				"failed_count", f.Failed,
			)
			return nil, false, nil
		}
	}

	now := s.now().UTC()
	inc, created, err := s.repo.OpenOrTouch(ctx, &Incident{
		RuleID:      f.RuleID,
		DatasetID:   f.DatasetID,
		RunID:       f.RunID,
		Severity:    f.Severity,
		Title:       f.Title(),
		Description: f.Description(),
		Evidence:    f.Evidence,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.IncIncident("opened", f.Severity)
		s.log.InfowCtx(ctx, "Incident opened",
			"incident_id", inc.ID,
			"severity", inc.Severity,
			"failed_count", f.Failed,
		)
	} else {
		metrics.IncIncident("touched", f.Severity)
		s.log.DebugwCtx(ctx, "Incident already open",
			"incident_id", inc.ID,
			"status", inc.Status,
		)
	}
	return inc, created, nil
}

func (s *Service) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	return s.transition(ctx, id, StatusAcknowledged)
}

func (s *Service) Resolve(ctx context.Context, id string) (*Incident, error) {
	return s.transition(ctx, id, StatusResolved)
}

func (s *Service) Mute(ctx context.Context, id string) (*Incident, error) {
	return s.transition(ctx, id, StatusMuted)
}

func (s *Service) transition(ctx context.Context, id string, to Status) (*Incident, error) {
	inc, err := s.repo.Transition(ctx, id, to, s.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.IncIncident(string(to), inc.Severity)
	s.log.InfowCtx(ctx, "Incident status changed", "incident_id", id, "status", to)
	return inc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Incident, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	return s.repo.List(ctx, filter)
}
