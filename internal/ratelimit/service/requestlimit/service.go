// Package requestlimit enforces the fixed-window request ceilings of the
// public and api-key tiers.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/metrics"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/ports"
	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/privacy"
	"gatehouse/pkg/requestcontext"
)

// BucketStore is an alias so callers need not import ports.
type BucketStore = ports.CounterStore

type Service struct {
	buckets BucketStore
	logger  *slog.Logger
	config  *config.Config
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(buckets BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}

	svc := &Service{
		buckets: buckets,
		config:  config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TierFor returns the api-key tier for organization-owned keys and the public
// tier for everything else.
func TierFor(key *domain.APIKeyRecord) models.Tier {
	if key.OwnedByOrganization() {
		return models.TierAPIKey
	}
	return models.TierPublic
}

// Check counts one request against the caller's tier. key is the record the
// presented API key resolved to, or nil.
func (s *Service) Check(ctx context.Context, ip string, key *domain.APIKeyRecord) (*models.RateLimitResult, error) {
	tier := TierFor(key)
	limit := s.config.PublicTier
	identifier := ip
	logIdentifier := privacy.AnonymizeIP(ip)
	if tier == models.TierAPIKey {
		limit = s.config.APIKeyTier
		identifier = key.ID.String()
		logIdentifier = identifier
	}

	w, err := s.buckets.Increment(ctx, models.NewRateLimitKey(tier, identifier), limit.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}
	if w.Degraded {
		s.metrics.RecordDegraded()
	}

	now := requestcontext.Now(ctx)
	result := &models.RateLimitResult{
		Allowed:   w.Count <= limit.RequestsPerWindow,
		Tier:      tier,
		Limit:     limit.RequestsPerWindow,
		Remaining: max(limit.RequestsPerWindow-w.Count, 0),
		ResetAt:   w.ResetAt,
		Degraded:  w.Degraded,
	}
	if !result.Allowed {
		result.RetryAfter = w.RetryAfter(now)
		s.metrics.RecordRateLimited(tier.String())
		ports.LogAudit(ctx, s.logger, "rate_limit_exceeded",
			"identifier", logIdentifier,
			"tier", tier,
			"limit", limit.RequestsPerWindow,
			"window_seconds", int(limit.Window.Seconds()),
		)
	}
	return result, nil
}

// Reset clears the counter for identifier in tier.
func (s *Service) Reset(ctx context.Context, tier models.Tier, identifier string) error {
	return s.buckets.Reset(ctx, models.NewRateLimitKey(tier, identifier))
}
