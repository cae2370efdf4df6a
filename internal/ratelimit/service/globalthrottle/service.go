// Package globalthrottle sheds load per instance with a token bucket placed in
// front of every other limiter.
package globalthrottle

import (
	"golang.org/x/time/rate"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/metrics"
)

type Service struct {
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New returns nil when cfg disables the throttle (non-positive rate).
func New(cfg config.GlobalThrottleConfig, m *metrics.Metrics) *Service {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond)
	}
	return &Service{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(burst, 1)),
		metrics: m,
	}
}

// Allow takes one token. A nil Service allows everything.
func (s *Service) Allow() bool {
	if s == nil {
		return true
	}
	if s.limiter.Allow() {
		return true
	}
	s.metrics.RecordThrottled()
	return false
}
