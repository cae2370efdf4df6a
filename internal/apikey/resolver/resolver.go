// Package resolver turns a presented API key into the stored record, reading
// through a TTL cache in front of the key store.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/sentinel"
	"gatehouse/pkg/requestcontext"
)

// KeyStore is the external owner of API key records. FindByID returns an error
// wrapping sentinel.ErrNotFound for unknown ids.
type KeyStore interface {
	FindByID(ctx context.Context, id domain.APIKeyID) (*domain.APIKeyRecord, error)
}

// TokenVerifier verifies signed key handles and returns the id they carry.
type TokenVerifier interface {
	VerifyAPIKeyToken(ctx context.Context, token string) (domain.APIKeyID, error)
}

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheMaxItems = 10_000
	defaultLookupTimeout = 2 * time.Second
)

// Resolver is safe for concurrent use. Records it returns are shared with the
// cache and must be treated as read-only.
type Resolver struct {
	store         KeyStore
	tokens        TokenVerifier
	logger        *slog.Logger
	tracer        trace.Tracer
	cache         *ristretto.Cache[string, *domain.APIKeyRecord]
	group         singleflight.Group
	cacheTTL      time.Duration
	cacheMaxItems int64
	lookupTimeout time.Duration
	registerer    prometheus.Registerer
	lookups       *prometheus.CounterVec
}

type Option func(*Resolver)

// WithCache sets the TTL and capacity of the record cache. A zero TTL
// disables caching.
func WithCache(ttl time.Duration, maxItems int64) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
		if maxItems > 0 {
			r.cacheMaxItems = maxItems
		}
	}
}

// WithLookupTimeout bounds each store lookup. Lookups past the deadline fail
// closed with key-store-unavailable.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

func WithTokenVerifier(v TokenVerifier) Option {
	return func(r *Resolver) {
		r.tokens = v
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = t
	}
}

// WithMetrics registers lookup counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Resolver) {
		r.registerer = reg
	}
}

func New(store KeyStore, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	r := &Resolver{
		store:         store,
		logger:        slog.Default(),
		tracer:        otel.Tracer("gatehouse/apikey/resolver"),
		cacheTTL:      defaultCacheTTL,
		cacheMaxItems: defaultCacheMaxItems,
		lookupTimeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.cacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, *domain.APIKeyRecord]{
			NumCounters:        r.cacheMaxItems * 10,
			MaxCost:            r.cacheMaxItems,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create api key cache: %w", err)
		}
		r.cache = cache
	}

	if r.registerer != nil {
		r.lookups = promauto.With(r.registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "apikey_lookups_total",
			Help: "API key lookups by result (cache_hit, store_hit, not_found, unavailable)",
		}, []string{"result"})
	}
	return r, nil
}

// Resolve looks up the record a presented key refers to. Signed handles are
// verified first; raw ids are looked up directly.
func (r *Resolver) Resolve(ctx context.Context, presented domain.PresentedKey) (*domain.APIKeyRecord, error) {
	var id domain.APIKeyID
	switch presented.Kind {
	case domain.PresentedKeySigned:
		if r.tokens == nil {
			return nil, dErrors.New(dErrors.CodeInvalidAPIKey, "signed api keys are not accepted")
		}
		verified, err := r.tokens.VerifyAPIKeyToken(ctx, presented.Value)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidAPIKey, "invalid api key")
		}
		id = verified
	default:
		parsed, err := domain.ParseAPIKeyID(presented.Value)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidAPIKey, "invalid api key")
		}
		id = parsed
	}
	return r.ResolveID(ctx, id)
}

// ResolveID returns the record for id, or invalid-api-key when the id is
// unknown or the key has expired.
func (r *Resolver) ResolveID(ctx context.Context, id domain.APIKeyID) (*domain.APIKeyRecord, error) {
	ctx, span := r.tracer.Start(ctx, "apikey.Resolve",
		trace.WithAttributes(attribute.String("apikey.id", id.String())))
	defer span.End()

	rec, cached, err := r.lookup(ctx, id)
	span.SetAttributes(attribute.Bool("apikey.cache_hit", cached))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	if rec.IsExpiredAt(requestcontext.Now(ctx)) {
		span.SetStatus(codes.Error, "expired")
		return nil, dErrors.New(dErrors.CodeInvalidAPIKey, "api key has expired")
	}
	return rec, nil
}

// Invalidate drops id from the cache. Key owners call it after an update or
// delete.
func (r *Resolver) Invalidate(id domain.APIKeyID) {
	if r.cache != nil {
		r.cache.Del(id.String())
	}
}

// Close releases the cache's background goroutines.
func (r *Resolver) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

func (r *Resolver) lookup(ctx context.Context, id domain.APIKeyID) (*domain.APIKeyRecord, bool, error) {
	key := id.String()
	if r.cache != nil {
		if rec, ok := r.cache.Get(key); ok && rec != nil {
			r.observe("cache_hit")
			return rec, true, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	// The shared lookup outlives any single caller's cancellation; each caller
	// still stops waiting at its own deadline.
	ch := r.group.DoChan(key, func() (any, error) {
		lookupCtx, lookupCancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer lookupCancel()
		rec, err := r.store.FindByID(lookupCtx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, sentinel.ErrNotFound
		}
		if r.cache != nil {
			r.cache.SetWithTTL(key, rec, 1, r.cacheTTL)
			r.cache.Wait()
		}
		return rec, nil
	})

	select {
	case <-ctx.Done():
		r.observe("unavailable")
		r.logger.WarnContext(ctx, "api key lookup timed out",
			"key_id", key,
			"error", ctx.Err(),
		)
		return nil, false, dErrors.Wrap(ctx.Err(), dErrors.CodeKeyStoreUnavailable, "api key store did not answer in time")
	case res := <-ch:
		if res.Err != nil {
			return nil, false, r.translate(ctx, key, res.Err)
		}
		r.observe("store_hit")
		rec, _ := res.Val.(*domain.APIKeyRecord)
		return rec, false, nil
	}
}

func (r *Resolver) translate(ctx context.Context, key string, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		r.observe("not_found")
		return dErrors.Wrap(err, dErrors.CodeInvalidAPIKey, "invalid api key")
	}
	r.observe("unavailable")
	r.logger.ErrorContext(ctx, "api key store lookup failed",
		"key_id", key,
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeKeyStoreUnavailable, "api key store unavailable")
}

func (r *Resolver) observe(result string) {
	if r.lookups != nil {
		r.lookups.WithLabelValues(result).Inc()
	}
}
