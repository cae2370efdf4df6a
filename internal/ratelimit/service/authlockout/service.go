// Package authlockout is the brute-force guard for sensitive routes. It counts
// failed attempts per scope and IP and locks the pair out once the free
// retries are spent.
package authlockout

import (
	"context"
	"errors"
	"log/slog"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/metrics"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/ports"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/privacy"
	"gatehouse/pkg/requestcontext"
)

type Service struct {
	buckets ports.CounterStore
	logger  *slog.Logger
	config  config.BruteForceConfig
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg config.BruteForceConfig) Option {
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
		config:  config.DefaultConfig().BruteForce,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check reports whether scope and ip are locked out. It does not count an
// attempt.
func (s *Service) Check(ctx context.Context, scope, ip string) (*models.LockoutStatus, error) {
	w, err := s.buckets.Peek(ctx, models.NewBruteForceKey(scope, ip))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get auth lockout record")
	}
	return s.status(ctx, w, w != nil && w.Count >= s.config.FreeRetries), nil
}

// Reserve counts an attempt before it is made, so concurrent attempts from one
// caller each see a distinct count. Attempts past the free retries are taken
// back and reported as locked. The first reservation opens a window lasting
// the configured lifetime.
//
// An admitted attempt must be settled with RecordFailure, RecordSuccess or
// Release once its outcome is known.
func (s *Service) Reserve(ctx context.Context, scope, ip string) (*models.LockoutStatus, error) {
	key := models.NewBruteForceKey(scope, ip)
	w, err := s.buckets.Increment(ctx, key, s.config.Lifetime)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve auth attempt")
	}
	if w.Degraded {
		s.metrics.RecordDegraded()
	}
	if w.Count <= s.config.FreeRetries {
		return s.status(ctx, w, false), nil
	}

	if err := s.buckets.Release(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to release rejected auth attempt",
			"scope", scope,
			"error", err,
		)
	}
	w.Count--
	status := s.status(ctx, w, true)
	s.metrics.RecordLockedReject(scope)
	ports.LogAudit(ctx, s.logger, "auth_lockout_rejected",
		"scope", scope,
		"ip", privacy.AnonymizeIP(ip),
		"failures", status.Failures,
		"retry_after", status.RetryAfter,
	)
	return status, nil
}

// RecordFailure keeps a reserved attempt as a failure. The attempt that spends
// the last free retry triggers the lockout.
func (s *Service) RecordFailure(ctx context.Context, scope, ip string, attempt *models.LockoutStatus) {
	s.metrics.RecordAuthFailure(scope)
	if attempt == nil || attempt.Failures != s.config.FreeRetries {
		return
	}
	s.metrics.RecordLockout(scope)
	ports.LogAudit(ctx, s.logger, "auth_lockout_triggered",
		"scope", scope,
		"ip", privacy.AnonymizeIP(ip),
		"failures", attempt.Failures,
		"locked_until", attempt.ResetAt,
	)
}

// RecordSuccess settles a successful attempt. The reservation is taken back,
// or the whole counter cleared in the stricter reset-on-success mode.
func (s *Service) RecordSuccess(ctx context.Context, scope, ip string) error {
	if s.config.ResetOnSuccess {
		return s.Clear(ctx, scope, ip)
	}
	return s.Release(ctx, scope, ip)
}

// Release takes back a reserved attempt whose outcome does not count.
func (s *Service) Release(ctx context.Context, scope, ip string) error {
	if err := s.buckets.Release(ctx, models.NewBruteForceKey(scope, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release auth attempt")
	}
	return nil
}

// Clear lifts any lockout for scope and ip.
func (s *Service) Clear(ctx context.Context, scope, ip string) error {
	if err := s.buckets.Reset(ctx, models.NewBruteForceKey(scope, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear auth lockout")
	}
	return nil
}

func (s *Service) status(ctx context.Context, w *models.Window, locked bool) *models.LockoutStatus {
	if w == nil {
		return &models.LockoutStatus{}
	}
	status := &models.LockoutStatus{
		Failures: w.Count,
		ResetAt:  w.ResetAt,
		Locked:   locked,
		Degraded: w.Degraded,
	}
	if status.Locked {
		status.RetryAfter = w.RetryAfter(requestcontext.Now(ctx))
	}
	return status
}
