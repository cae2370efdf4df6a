// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets values once per request; services and handlers read them
// without importing net/http.
//
// Usage in services (read values):
//
//	caller, ok := requestcontext.UserCaller(ctx)
//	ip := requestcontext.ClientIP(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClientMetadata(ctx, "10.1.2.3", "curl/8.0")
package requestcontext

import (
	"context"
	"crypto/subtle"
	"time"

	"gatehouse/pkg/domain"
)

type (
	userCallerKey   struct{}
	apiKeyCallerKey struct{}
	keySecretKey    struct{}
	clientIPKey     struct{}
	userAgentKey    struct{}
	referrerKey     struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyUserCaller   = userCallerKey{}
	ContextKeyAPIKeyCaller = apiKeyCallerKey{}
	ContextKeyClientIP     = clientIPKey{}
	ContextKeyUserAgent    = userAgentKey{}
	ContextKeyReferrer     = referrerKey{}
	ContextKeyRequestID    = requestIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Caller identities
// -----------------------------------------------------------------------------

// UserCaller returns the user identity attached by the authentication gate.
func UserCaller(ctx context.Context) (domain.CallerIdentity, bool) {
	c, ok := ctx.Value(ContextKeyUserCaller).(domain.CallerIdentity)
	return c, ok
}

// WithUserCaller attaches a user identity.
func WithUserCaller(ctx context.Context, c domain.CallerIdentity) context.Context {
	return context.WithValue(ctx, ContextKeyUserCaller, c)
}

// APIKeyCaller returns the API key identity attached by the authentication gate.
func APIKeyCaller(ctx context.Context) (domain.CallerIdentity, bool) {
	c, ok := ctx.Value(ContextKeyAPIKeyCaller).(domain.CallerIdentity)
	return c, ok
}

// WithAPIKeyCaller attaches an API key identity.
func WithAPIKeyCaller(ctx context.Context, c domain.CallerIdentity) context.Context {
	return context.WithValue(ctx, ContextKeyAPIKeyCaller, c)
}

type verifiedKeySecret struct {
	keyID  domain.APIKeyID
	secret string
}

// WithVerifiedKeySecret records that secret matched the stored hash of keyID,
// so later stages of the same request can skip the slow comparison.
func WithVerifiedKeySecret(ctx context.Context, keyID domain.APIKeyID, secret string) context.Context {
	return context.WithValue(ctx, keySecretKey{}, verifiedKeySecret{keyID: keyID, secret: secret})
}

// KeySecretVerified reports whether secret was already verified for keyID in
// this request.
func KeySecretVerified(ctx context.Context, keyID domain.APIKeyID, secret string) bool {
	v, ok := ctx.Value(keySecretKey{}).(verifiedKeySecret)
	if !ok || secret == "" || v.keyID != keyID {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.secret), []byte(secret)) == 1
}

// UserID returns the authenticated user id, or "" when no user identity is attached.
func UserID(ctx context.Context) domain.UserID {
	if c, ok := UserCaller(ctx); ok {
		return c.UserID
	}
	return ""
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, Referer)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// Referrer retrieves the raw Referer header value from the context.
func Referrer(ctx context.Context) string {
	if ref, ok := ctx.Value(ContextKeyReferrer).(string); ok {
		return ref
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// WithReferrer injects the Referer header value.
func WithReferrer(ctx context.Context, referrer string) context.Context {
	return context.WithValue(ctx, ContextKeyReferrer, referrer)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
