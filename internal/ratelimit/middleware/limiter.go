package middleware

import (
	"context"
	"net/http"
	"time"

	"gatehouse/internal/apikey/scope"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/pkg/domain"
	auth "gatehouse/pkg/platform/middleware/auth"
	"gatehouse/pkg/requestcontext"
)

// RequestLimiter is the fixed-window rate limiter.
type RequestLimiter interface {
	Check(ctx context.Context, ip string, key *domain.APIKeyRecord) (*models.RateLimitResult, error)
}

// SpeedLimiter computes the progressive delay owed by a request.
type SpeedLimiter interface {
	Check(ctx context.Context, ip string, key *domain.APIKeyRecord) (*models.SlowDownResult, error)
}

// LockoutGuard is the brute-force guard of sensitive routes. Every admitted
// reservation is settled exactly once.
type LockoutGuard interface {
	Reserve(ctx context.Context, scope, ip string) (*models.LockoutStatus, error)
	RecordFailure(ctx context.Context, scope, ip string, attempt *models.LockoutStatus)
	RecordSuccess(ctx context.Context, scope, ip string) error
	Release(ctx context.Context, scope, ip string) error
}

// Throttle is the per-instance load shedder.
type Throttle interface {
	Allow() bool
}

// KeyResolver looks up the presented API key. The limiters use it only to
// pick a tier; the authentication gate still makes the admission decision.
type KeyResolver interface {
	Resolve(ctx context.Context, presented domain.PresentedKey) (*domain.APIKeyRecord, error)
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

type classifiedKey struct{}

type classification struct {
	record *domain.APIKeyRecord
}

// classify picks the caller's key once per request and caches the answer on
// the returned request. Key ids are not secret, so a key selects its tier only
// when it is proven: the presented secret matches, or, without a secret, the
// key is a verified signed handle. The key's restrictions must also admit the
// caller. Anything else classifies the caller as public.
func (m *Middleware) classify(r *http.Request) (*http.Request, *domain.APIKeyRecord) {
	if c, ok := r.Context().Value(classifiedKey{}).(classification); ok {
		return r, c.record
	}

	ctx, record := m.provenKey(r)
	ctx = context.WithValue(ctx, classifiedKey{}, classification{record: record})
	return r.WithContext(ctx), record
}

func (m *Middleware) provenKey(r *http.Request) (context.Context, *domain.APIKeyRecord) {
	ctx := r.Context()
	creds := auth.ExtractCredentials(r)
	if creds.APIKey == "" || m.keys == nil {
		return ctx, nil
	}

	presented := domain.ClassifyPresentedKey(creds.APIKey)
	rec, err := m.keys.Resolve(ctx, presented)
	if err != nil {
		m.logger.DebugContext(ctx, "api key not resolved for tier selection", "error", err)
		return ctx, nil
	}

	switch {
	case creds.Secret != "":
		if err := m.verifySecret(creds.Secret, rec.SecretHash); err != nil {
			m.logger.DebugContext(ctx, "api key secret rejected for tier selection", "key_id", rec.ID)
			return ctx, nil
		}
		ctx = requestcontext.WithVerifiedKeySecret(ctx, rec.ID, creds.Secret)
	case presented.Kind != domain.PresentedKeySigned:
		return ctx, nil
	}

	if err := scope.Validate(rec, creds.ClientIP, creds.Referrer); err != nil {
		return ctx, nil
	}
	return ctx, rec
}
