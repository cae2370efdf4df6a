package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"gatehouse/internal/apikey/resolver"
	"gatehouse/internal/apikey/secrets"
	keystore "gatehouse/internal/apikey/store"
	"gatehouse/internal/auth/gate"
	"gatehouse/internal/identity"
	userstore "gatehouse/internal/identity/store/user"
	jwttoken "gatehouse/internal/jwt_token"
	"gatehouse/internal/platform/config"
	"gatehouse/internal/platform/httpserver"
	"gatehouse/internal/platform/logger"
	"gatehouse/internal/platform/metrics"
	"gatehouse/internal/platform/postgres"
	"gatehouse/internal/platform/redis"
	ratelimitadmin "gatehouse/internal/ratelimit/admin"
	ratelimithandler "gatehouse/internal/ratelimit/handler"
	ratelimitmetrics "gatehouse/internal/ratelimit/metrics"
	ratelimitmw "gatehouse/internal/ratelimit/middleware"
	"gatehouse/internal/ratelimit/ports"
	"gatehouse/internal/ratelimit/service/authlockout"
	"gatehouse/internal/ratelimit/service/globalthrottle"
	"gatehouse/internal/ratelimit/service/requestlimit"
	"gatehouse/internal/ratelimit/service/slowdown"
	"gatehouse/internal/ratelimit/store/bucket"
	httptransport "gatehouse/internal/transport/http"
	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/circuit"
)

const janitorInterval = time.Minute

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gatehouse stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := metrics.New()
	health := map[string]httptransport.HealthCheck{}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		health["redis"] = rdb.Health
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.PingContext
	}

	jwt := jwttoken.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, jwttoken.WithExpiry(jwttoken.Expiry(cfg.Tokens)))

	keys, err := buildKeyStore(ctx, cfg, db, jwt, log)
	if err != nil {
		return err
	}
	keyResolver, err := resolver.New(keys,
		resolver.WithCache(cfg.APIKeys.CacheTTL, cfg.APIKeys.CacheMaxItems),
		resolver.WithLookupTimeout(cfg.APIKeys.LookupTimeout),
		resolver.WithTokenVerifier(jwttoken.NewGateAdapter(jwt)),
		resolver.WithLogger(log),
		resolver.WithTracer(otel.Tracer("gatehouse/apikey/resolver")),
		resolver.WithMetrics(reg.Registerer),
	)
	if err != nil {
		return fmt.Errorf("create key resolver: %w", err)
	}
	defer keyResolver.Close()

	authGate, err := gate.New(jwttoken.NewGateAdapter(jwt), keyResolver,
		gate.WithLogger(log),
		gate.WithSecretVerifier(secrets.Verify),
		gate.WithMetrics(reg.Registerer),
	)
	if err != nil {
		return fmt.Errorf("create auth gate: %w", err)
	}

	local := bucket.New()
	go func() {
		if err := local.StartCleanup(ctx, janitorInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("counter janitor stopped", "error", err)
		}
	}()
	var counters ports.CounterStore = local
	if rdb != nil {
		counters = bucket.NewResilient(bucket.NewRedis(rdb.Client, bucket.WithRegisterer(reg.Registerer)), local,
			bucket.WithBreaker(circuit.New("redis-counters")),
			bucket.WithLogger(log),
		)
	}

	limits, err := buildLimits(cfg, counters, keyResolver, reg, log)
	if err != nil {
		return err
	}

	provider, err := identity.New(userstore.New(), jwt,
		identity.WithLogger(log),
		identity.WithNotifier(identity.LogNotifier{Logger: log}),
	)
	if err != nil {
		return fmt.Errorf("create identity provider: %w", err)
	}

	adminSvc, err := ratelimitadmin.New(counters, ratelimitadmin.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create ratelimit admin: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Metrics:    reg,
		Limits:     limits,
		Gate:       authGate,
		Identity:   provider,
		Admin:      ratelimithandler.New(adminSvc, log),
		AdminToken: cfg.AdminToken,
		Health:     health,

		TrustedProxies: cfg.TrustedProxies,
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting gatehouse", "addr", cfg.Addr, "environment", cfg.Environment,
		"shared_counters", rdb != nil, "postgres_keys", db != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func buildLimits(cfg config.Server, counters ports.CounterStore, keys *resolver.Resolver, reg *metrics.Registry, log *slog.Logger) (*ratelimitmw.Middleware, error) {
	m := ratelimitmetrics.New(reg.Registerer)

	requests, err := requestlimit.New(counters,
		requestlimit.WithConfig(cfg.RateLimit),
		requestlimit.WithMetrics(m),
		requestlimit.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create request limiter: %w", err)
	}
	speed, err := slowdown.New(counters,
		slowdown.WithConfig(cfg.RateLimit.SpeedLimit),
		slowdown.WithMetrics(m),
		slowdown.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create speed limiter: %w", err)
	}
	lockout, err := authlockout.New(counters,
		authlockout.WithConfig(cfg.RateLimit.BruteForce),
		authlockout.WithMetrics(m),
		authlockout.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create brute-force guard: %w", err)
	}

	opts := []ratelimitmw.Option{
		ratelimitmw.WithRequestLimiter(requests),
		ratelimitmw.WithSpeedLimiter(speed),
		ratelimitmw.WithLockoutGuard(lockout),
		ratelimitmw.WithKeyResolver(keys),
		ratelimitmw.WithMetrics(m),
		ratelimitmw.WithDisabled(cfg.DisableAbuseControl),
	}
	if throttle := globalthrottle.New(cfg.RateLimit.GlobalThrottle, m); throttle != nil {
		opts = append(opts, ratelimitmw.WithThrottle(throttle))
	}
	return ratelimitmw.New(log, opts...), nil
}

// buildKeyStore prefers Postgres. Without a database, development runs get a
// freshly minted key so the API-key tier can be exercised locally.
func buildKeyStore(ctx context.Context, cfg config.Server, db *sql.DB, jwt *jwttoken.JWTService, log *slog.Logger) (resolver.KeyStore, error) {
	if db != nil {
		if _, err := db.ExecContext(ctx, keystore.Schema); err != nil {
			return nil, fmt.Errorf("migrate api_keys: %w", err)
		}
		return keystore.NewPostgres(db), nil
	}

	store := keystore.NewInMemory()
	if cfg.Environment != "development" {
		return store, nil
	}

	secret, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, err
	}
	rec := &domain.APIKeyRecord{
		ID:             domain.APIKeyID(uuid.NewString()),
		SecretHash:     hash,
		OrganizationID: "dev-org",
	}
	if err := store.Save(ctx, rec); err != nil {
		return nil, err
	}
	handle, err := jwt.APIKeyToken(ctx, rec)
	if err != nil {
		return nil, err
	}
	log.Info("seeded development api key", "key_id", rec.ID, "secret", secret, "signed_handle", handle)
	return store, nil
}
