package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"gatehouse/internal/apikey/secrets"
	"gatehouse/internal/ratelimit/metrics"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/service/slowdown"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	metadata "gatehouse/pkg/platform/middleware/metadata"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/platform/privacy"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderStatus    = "X-RateLimit-Status"
	HeaderDelay     = "X-SlowDown-Delay-Ms"
)

type Middleware struct {
	requests     RequestLimiter
	speed        SpeedLimiter
	lockout      LockoutGuard
	throttle     Throttle
	keys         KeyResolver
	verifySecret func(secret, hash string) error
	sleep        Sleeper
	logger       *slog.Logger
	metrics      *metrics.Metrics
	disabled     bool
}

type Option func(*Middleware)

func WithRequestLimiter(l RequestLimiter) Option {
	return func(m *Middleware) {
		m.requests = l
	}
}

func WithSpeedLimiter(l SpeedLimiter) Option {
	return func(m *Middleware) {
		m.speed = l
	}
}

func WithLockoutGuard(g LockoutGuard) Option {
	return func(m *Middleware) {
		m.lockout = g
	}
}

// WithThrottle installs the global throttle. A nil *globalthrottle.Service is
// accepted and allows everything.
func WithThrottle(t Throttle) Option {
	return func(m *Middleware) {
		m.throttle = t
	}
}

// WithKeyResolver enables api-key tier selection.
func WithKeyResolver(k KeyResolver) Option {
	return func(m *Middleware) {
		m.keys = k
	}
}

// WithSecretVerifier replaces the bcrypt comparison that proves a raw key id.
func WithSecretVerifier(fn func(secret, hash string) error) Option {
	return func(m *Middleware) {
		m.verifySecret = fn
	}
}

// WithSleeper replaces the delay function used by SpeedLimit.
func WithSleeper(s Sleeper) Option {
	return func(m *Middleware) {
		m.sleep = s
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithDisabled disables abuse control entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		logger:       logger,
		sleep:        slowdown.Wait,
		verifySecret: secrets.Verify,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("abuse control disabled")
	}
	return m
}

// GlobalThrottle sheds load with 503 once the instance token bucket is empty.
func (m *Middleware) GlobalThrottle() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.throttle == nil || m.throttle.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, dErrors.NewSafe(dErrors.CodeServiceUnavailable,
				"Service is temporarily overloaded. Please try again later."))
		})
	}
}

// SpeedLimit delays callers past the hit threshold. A caller that goes away
// while delayed is dropped without a response.
func (m *Middleware) SpeedLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.speed == nil {
				next.ServeHTTP(w, r)
				return
			}

			r, key := m.classify(r)
			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)

			result, err := m.speed.Check(ctx, ip, key)
			if err != nil {
				m.rejectUnavailable(w, r, "speed_limit", ip, err)
				return
			}
			markDegraded(w, result.Degraded)

			if result.Delay > 0 {
				w.Header().Set(HeaderDelay, strconv.FormatInt(result.Delay.Milliseconds(), 10))
				if err := m.sleep(ctx, result.Delay); err != nil {
					m.logger.DebugContext(ctx, "client went away while delayed",
						"ip_prefix", privacy.AnonymizeIP(ip),
						"delay_ms", result.Delay.Milliseconds(),
					)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit enforces the tier ceilings and reports them in headers.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.requests == nil {
				next.ServeHTTP(w, r)
				return
			}

			r, key := m.classify(r)
			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)

			result, err := m.requests.Check(ctx, ip, key)
			if err != nil {
				m.rejectUnavailable(w, r, "rate_limit", ip, err)
				return
			}

			// Add headers regardless of outcome
			addRateLimitHeaders(w, result)
			markDegraded(w, result.Degraded)

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.NewSafe(dErrors.CodeRateLimited,
					"Too many requests. Please try again later."))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BruteForce guards a sensitive route. Each attempt is reserved against the
// scope and the caller's IP before the route runs. Client errors answered by
// the route, other than 429, keep the reservation as a failed attempt; any
// other answer gives it back.
func (m *Middleware) BruteForce(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.lockout == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)

			attempt, err := m.lockout.Reserve(ctx, scope, ip)
			if err != nil {
				m.rejectUnavailable(w, r, "brute_force", ip, err)
				return
			}
			markDegraded(w, attempt.Degraded)

			if attempt.Locked {
				w.Header().Set("Retry-After", strconv.Itoa(attempt.RetryAfter))
				httputil.WriteError(w, dErrors.NewSafe(dErrors.CodeTooManyAttempts,
					"Too many failed attempts. Please try again later."))
				return
			}

			rec := request.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			// The outcome is settled even when the client has gone away.
			settle := context.WithoutCancel(ctx)
			switch {
			case isFailedAttempt(rec.Status):
				m.lockout.RecordFailure(settle, scope, ip, attempt)
			case rec.Status >= 200 && rec.Status < 300:
				if err := m.lockout.RecordSuccess(settle, scope, ip); err != nil {
					m.storeFailure(r, "brute_force", ip, err)
				}
			default:
				if err := m.lockout.Release(settle, scope, ip); err != nil {
					m.storeFailure(r, "brute_force", ip, err)
				}
			}
		})
	}
}

func isFailedAttempt(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// rejectUnavailable fails the request closed when a limiter cannot read its
// counters. Without a verdict the request is not admitted.
func (m *Middleware) rejectUnavailable(w http.ResponseWriter, r *http.Request, limiter, ip string, err error) {
	m.storeFailure(r, limiter, ip, err)
	w.Header().Set("Retry-After", "1")
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeServiceUnavailable,
		"Abuse control is temporarily unavailable. Please try again later."))
}

// storeFailure logs and counts a counter store failure.
func (m *Middleware) storeFailure(r *http.Request, limiter, ip string, err error) {
	m.metrics.RecordStoreError(limiter)
	m.logger.ErrorContext(r.Context(), "abuse control check failed",
		"limiter", limiter,
		"error", err,
		"ip_prefix", privacy.AnonymizeIP(ip),
	)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func markDegraded(w http.ResponseWriter, degraded bool) {
	if degraded {
		w.Header().Set(HeaderStatus, "degraded")
	}
}
