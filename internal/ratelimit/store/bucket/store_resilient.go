package bucket

import (
	"context"
	"log/slog"
	"time"

	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/ports"
	"gatehouse/pkg/platform/circuit"
)

// ResilientStore counts against a shared primary store and falls back to a
// local one while the primary is failing. Windows served by the fallback are
// marked Degraded.
type ResilientStore struct {
	primary  ports.CounterStore
	fallback ports.CounterStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type ResilientOption func(*ResilientStore)

func WithBreaker(b *circuit.Breaker) ResilientOption {
	return func(s *ResilientStore) {
		s.breaker = b
	}
}

func WithLogger(logger *slog.Logger) ResilientOption {
	return func(s *ResilientStore) {
		s.logger = logger
	}
}

func NewResilient(primary, fallback ports.CounterStore, opts ...ResilientOption) *ResilientStore {
	s := &ResilientStore{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("counter-store"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment always counts in the fallback as well while the breaker is open,
// so the local count is warm if the primary keeps failing.
func (s *ResilientStore) Increment(ctx context.Context, key string, window time.Duration) (*models.Window, error) {
	w, err := s.primary.Increment(ctx, key, window)
	if err == nil {
		usePrimary, change := s.breaker.RecordSuccess()
		s.logChange(ctx, change, nil)
		if usePrimary {
			return w, nil
		}
		return s.degraded(s.fallback.Increment(ctx, key, window))
	}

	_, change := s.breaker.RecordFailure()
	s.logChange(ctx, change, err)
	s.logger.WarnContext(ctx, "shared counter store failed, counting locally",
		"key", key,
		"error", err,
	)
	return s.degraded(s.fallback.Increment(ctx, key, window))
}

func (s *ResilientStore) Peek(ctx context.Context, key string) (*models.Window, error) {
	if s.breaker.IsOpen() {
		return s.degraded(s.fallback.Peek(ctx, key))
	}
	w, err := s.primary.Peek(ctx, key)
	if err != nil {
		_, change := s.breaker.RecordFailure()
		s.logChange(ctx, change, err)
		return s.degraded(s.fallback.Peek(ctx, key))
	}
	return w, nil
}

// Release returns the hit to whichever store counted it.
func (s *ResilientStore) Release(ctx context.Context, key string) error {
	if s.breaker.IsOpen() {
		return s.fallback.Release(ctx, key)
	}
	if err := s.primary.Release(ctx, key); err != nil {
		_, change := s.breaker.RecordFailure()
		s.logChange(ctx, change, err)
		return s.fallback.Release(ctx, key)
	}
	return nil
}

// Reset clears both stores so a lifted lockout stays lifted after failover.
func (s *ResilientStore) Reset(ctx context.Context, key string) error {
	if err := s.fallback.Reset(ctx, key); err != nil {
		return err
	}
	if err := s.primary.Reset(ctx, key); err != nil {
		_, change := s.breaker.RecordFailure()
		s.logChange(ctx, change, err)
		return err
	}
	return nil
}

// Degraded reports whether the breaker is open.
func (s *ResilientStore) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *ResilientStore) degraded(w *models.Window, err error) (*models.Window, error) {
	if w != nil {
		w.Degraded = true
	}
	return w, err
}

func (s *ResilientStore) logChange(ctx context.Context, change circuit.StateChange, err error) {
	switch {
	case change.Opened:
		s.logger.ErrorContext(ctx, "circuit opened, using local counters",
			"breaker", s.breaker.Name(),
			"error", err,
		)
	case change.Closed:
		s.logger.InfoContext(ctx, "circuit closed, shared counters restored",
			"breaker", s.breaker.Name(),
		)
	}
}
