// Package admin lets operators clear abuse counters, for example to lift a
// brute-force lockout before its lifetime ends.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/ports"
	dErrors "gatehouse/pkg/domain-errors"
)

type Service struct {
	buckets ports.CounterStore
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(buckets ports.CounterStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}
	svc := &Service{buckets: buckets}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ResetCounter clears the counter addressed by req.
func (s *Service) ResetCounter(ctx context.Context, req *models.ResetCounterRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	key := req.Key()
	if err := s.buckets.Reset(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset counter")
	}

	ports.LogAudit(ctx, s.logger, "abuse_counter_reset",
		"kind", req.Kind,
		"key", key,
	)
	return nil
}
