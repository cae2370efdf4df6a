// Package slowdown applies progressive delay to callers past a per-IP hit
// threshold instead of rejecting them.
package slowdown

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/metrics"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/ports"
	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/privacy"
)

type Service struct {
	buckets ports.CounterStore
	logger  *slog.Logger
	config  config.SpeedLimitConfig
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg config.SpeedLimitConfig) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(buckets ports.CounterStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}
	svc := &Service{
		buckets: buckets,
		config:  config.DefaultConfig().SpeedLimit,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check counts one hit for ip and returns the delay it owes. Organization
// keys are exempt and are not counted.
func (s *Service) Check(ctx context.Context, ip string, key *domain.APIKeyRecord) (*models.SlowDownResult, error) {
	if key.OwnedByOrganization() {
		return &models.SlowDownResult{Exempt: true}, nil
	}

	w, err := s.buckets.Increment(ctx, models.NewSpeedLimitKey(ip), s.config.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check speed limit")
	}
	if w.Degraded {
		s.metrics.RecordDegraded()
	}

	result := &models.SlowDownResult{
		Hits:     w.Count,
		Delay:    s.config.DelayFor(w.Count),
		ResetAt:  w.ResetAt,
		Degraded: w.Degraded,
	}
	if result.Delay > 0 {
		s.metrics.RecordSlowDown(result.Delay)
		if w.Count == s.config.DelayAfter+1 {
			ports.LogAudit(ctx, s.logger, "speed_limit_engaged",
				"ip", privacy.AnonymizeIP(ip),
				"delay_after", s.config.DelayAfter,
			)
		}
	}
	return result, nil
}

// Wait sleeps for d unless ctx ends first, in which case it returns ctx.Err().
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the hit counter for ip.
func (s *Service) Reset(ctx context.Context, ip string) error {
	return s.buckets.Reset(ctx, models.NewSpeedLimitKey(ip))
}
