package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/models"
	"gatehouse/internal/ratelimit/service/authlockout"
	"gatehouse/internal/ratelimit/service/globalthrottle"
	"gatehouse/internal/ratelimit/service/requestlimit"
	"gatehouse/internal/ratelimit/service/slowdown"
	"gatehouse/internal/ratelimit/store/bucket"
	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/requestcontext"
	"gatehouse/pkg/testutil"
)

type stubResolver struct {
	records map[string]*domain.APIKeyRecord
	calls   int
}

func (s *stubResolver) Resolve(_ context.Context, presented domain.PresentedKey) (*domain.APIKeyRecord, error) {
	s.calls++
	if rec, ok := s.records[presented.Value]; ok {
		return rec, nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidAPIKey, "unknown key")
}

const signedOrgKey = "eyJhbGciOiJIUzI1NiJ9.eyJpZCI6Im9yZy1rZXkifQ.c2ln"

// verifyHash stands in for bcrypt: a hash matches "hash:" + secret.
func verifyHash(secret, hash string) error {
	if hash != "hash:"+secret {
		return dErrors.New(dErrors.CodeInvalidAPIKeySecret, "secret mismatch")
	}
	return nil
}

type failingRequests struct{}

func (failingRequests) Check(context.Context, string, *domain.APIKeyRecord) (*models.RateLimitResult, error) {
	return nil, errors.New("store down")
}

type MiddlewareSuite struct {
	suite.Suite
	logger   *slog.Logger
	resolver *stubResolver
	slept    []time.Duration
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	org := &domain.APIKeyRecord{ID: "org-key", SecretHash: "hash:org-secret", OrganizationID: "org-1"}
	s.resolver = &stubResolver{records: map[string]*domain.APIKeyRecord{
		"org-key":    org,
		signedOrgKey: org,
		"solo-key":   {ID: "solo-key", SecretHash: "hash:solo-secret"},
		"office-key": {ID: "office-key", SecretHash: "hash:office-secret", OrganizationID: "org-2", IPRestrictions: []string{"10.0.0.0/8"}},
	}}
	s.slept = nil
}

func (s *MiddlewareSuite) newMiddleware(cfg *config.Config, opts ...Option) *Middleware {
	store := bucket.New()
	requests, err := requestlimit.New(store, requestlimit.WithConfig(cfg), requestlimit.WithLogger(s.logger))
	s.Require().NoError(err)
	speed, err := slowdown.New(store, slowdown.WithConfig(cfg.SpeedLimit))
	s.Require().NoError(err)
	lockout, err := authlockout.New(store, authlockout.WithConfig(cfg.BruteForce))
	s.Require().NoError(err)

	base := []Option{
		WithRequestLimiter(requests),
		WithSpeedLimiter(speed),
		WithLockoutGuard(lockout),
		WithKeyResolver(s.resolver),
		WithSecretVerifier(verifyHash),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			s.slept = append(s.slept, d)
			return nil
		}),
	}
	return New(s.logger, append(base, opts...)...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.PublicTier = config.Limit{RequestsPerWindow: 2, Window: time.Minute}
	cfg.APIKeyTier = config.Limit{RequestsPerWindow: 4, Window: time.Minute}
	cfg.SpeedLimit = config.SpeedLimitConfig{Window: time.Minute, DelayAfter: 1, Delay: 50 * time.Millisecond}
	cfg.BruteForce = config.BruteForceConfig{FreeRetries: 2, Lifetime: time.Minute}
	return cfg
}

func newRequest(ip string, headers map[string]string) *http.Request {
	req := testutil.WithClientIP(httptest.NewRequest(http.MethodGet, "/v1/me", nil), ip)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req.WithContext(requestcontext.WithTime(req.Context(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func decodeError(s *MiddlewareSuite, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	var body httputil.ErrorResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func (s *MiddlewareSuite) TestRateLimitPublicTier() {
	handler := s.newMiddleware(testConfig()).RateLimit()(okHandler())

	for i := range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("2", rec.Header().Get(HeaderLimit))
		s.Equal(strconv.Itoa(1-i), rec.Header().Get(HeaderRemaining))
		s.NotEmpty(rec.Header().Get(HeaderReset))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("60", rec.Header().Get("Retry-After"))
	s.Equal("0", rec.Header().Get(HeaderRemaining))
	body := decodeError(s, rec)
	s.Equal("rate-limited", body.Error)
	s.NotEmpty(body.Message)
}

func (s *MiddlewareSuite) TestRateLimitAPIKeyTier() {
	handler := s.newMiddleware(testConfig()).RateLimit()(okHandler())

	cases := []struct {
		name    string
		ip      string
		headers map[string]string
		limit   string
	}{
		{"organization key with its secret gets the api-key ceiling", "1.2.3.4",
			map[string]string{"X-Api-Key": "org-key", "X-Api-Secret": "org-secret"}, "4"},
		{"signed organization handle gets the api-key ceiling", "1.2.3.5",
			map[string]string{"X-Api-Key": signedOrgKey}, "4"},
		{"organization key id alone stays public", "1.2.3.6",
			map[string]string{"X-Api-Key": "org-key"}, "2"},
		{"wrong secret stays public", "1.2.3.7",
			map[string]string{"X-Api-Key": "org-key", "X-Api-Secret": "guess"}, "2"},
		{"key without organization stays public", "5.6.7.8",
			map[string]string{"X-Api-Key": "solo-key", "X-Api-Secret": "solo-secret"}, "2"},
		{"restricted key outside its range stays public", "192.168.1.1",
			map[string]string{"X-Api-Key": "office-key", "X-Api-Secret": "office-secret"}, "2"},
		{"restricted key inside its range gets the api-key ceiling", "10.1.1.1",
			map[string]string{"X-Api-Key": "office-key", "X-Api-Secret": "office-secret"}, "4"},
		{"unknown key falls back to public", "9.9.9.9",
			map[string]string{"X-Api-Key": "nope", "X-Api-Secret": "x"}, "2"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest(tc.ip, tc.headers))
			s.Equal(http.StatusOK, rec.Code)
			s.Equal(tc.limit, rec.Header().Get(HeaderLimit))
		})
	}
}

func (s *MiddlewareSuite) TestKeyIDAloneCannotSpendOwnerQuota() {
	handler := s.newMiddleware(testConfig()).RateLimit()(okHandler())

	for i := range 8 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("172.16.0."+strconv.Itoa(i+1), map[string]string{"X-Api-Key": "org-key"}))
		s.Equal(http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", map[string]string{"X-Api-Key": "org-key", "X-Api-Secret": "org-secret"}))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("3", rec.Header().Get(HeaderRemaining))
}

func (s *MiddlewareSuite) TestRateLimitConcurrentCallers() {
	handler := s.newMiddleware(testConfig()).RateLimit()(okHandler())

	const callers = 50
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		limited  atomic.Int32
	)
	for range callers {
		wg.Go(func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
			switch rec.Code {
			case http.StatusOK:
				admitted.Add(1)
			case http.StatusTooManyRequests:
				limited.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(2), admitted.Load())
	s.Equal(int32(callers-2), limited.Load())
}

func (s *MiddlewareSuite) TestRateLimitStoreFailureFailsClosed() {
	m := New(s.logger, WithRequestLimiter(failingRequests{}))
	rec := httptest.NewRecorder()
	called := false
	handler := m.RateLimit()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))

	s.False(called)
	testutil.AssertRejected(s.T(), rec, http.StatusServiceUnavailable, "service-unavailable", "1")
	s.Empty(rec.Header().Get(HeaderLimit))
}

func (s *MiddlewareSuite) TestSpeedLimit() {
	m := s.newMiddleware(testConfig())
	handler := m.SpeedLimit()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Header().Get(HeaderDelay))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("50", rec.Header().Get(HeaderDelay))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal("100", rec.Header().Get(HeaderDelay))
	s.Equal([]time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, s.slept)

	s.Run("organization keys are never delayed", func() {
		s.slept = nil
		for range 3 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest("1.2.3.4", map[string]string{"X-Api-Key": "org-key", "X-Api-Secret": "org-secret"}))
			s.Equal(http.StatusOK, rec.Code)
			s.Empty(rec.Header().Get(HeaderDelay))
		}
		s.Empty(s.slept)
	})

	s.Run("an unproven organization key id is delayed", func() {
		s.slept = nil
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("1.2.3.4", map[string]string{"X-Api-Key": "org-key"}))
		s.Equal(http.StatusOK, rec.Code)
		s.NotEmpty(rec.Header().Get(HeaderDelay))
		s.Len(s.slept, 1)
	})
}

func (s *MiddlewareSuite) TestSpeedLimitAbandonsCancelledRequest() {
	m := s.newMiddleware(testConfig(), WithSleeper(slowdown.Wait))
	called := 0
	handler := m.SpeedLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("1.2.3.4", nil))
	s.Equal(1, called)

	req := newRequest("1.2.3.4", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
	s.Equal(1, called)
}

func (s *MiddlewareSuite) TestKeyResolvedOncePerRequest() {
	m := s.newMiddleware(testConfig())
	handler := m.SpeedLimit()(m.RateLimit()(okHandler()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", map[string]string{"X-Api-Key": "org-key", "X-Api-Secret": "org-secret"}))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("4", rec.Header().Get(HeaderLimit))
	s.Equal(1, s.resolver.calls)
}

func (s *MiddlewareSuite) TestBruteForce() {
	m := s.newMiddleware(testConfig())

	s.Run("failures lock the scope after the free retries", func() {
		handler := m.BruteForce("login")(statusHandler(http.StatusUnauthorized))
		for range 2 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
			s.Equal(http.StatusUnauthorized, rec.Code)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("60", rec.Header().Get("Retry-After"))
		s.Equal("too-many-attempts", decodeError(s, rec).Error)
	})

	s.Run("a locked caller is rejected even with good credentials", func() {
		rec := httptest.NewRecorder()
		m.BruteForce("login")(okHandler()).ServeHTTP(rec, newRequest("1.2.3.4", nil))
		s.Equal(http.StatusTooManyRequests, rec.Code)
	})

	s.Run("other scopes stay open", func() {
		rec := httptest.NewRecorder()
		m.BruteForce("register")(okHandler()).ServeHTTP(rec, newRequest("1.2.3.4", nil))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("successes and server errors are not counted", func() {
		for _, status := range []int{http.StatusOK, http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusOK} {
			rec := httptest.NewRecorder()
			m.BruteForce("reset")(statusHandler(status)).ServeHTTP(rec, newRequest("5.5.5.5", nil))
			s.Equal(status, rec.Code)
		}
	})
}

func (s *MiddlewareSuite) TestBruteForceConcurrentAttempts() {
	cfg := testConfig()
	cfg.BruteForce.FreeRetries = 3
	m := s.newMiddleware(cfg)

	var reached atomic.Int32
	handler := m.BruteForce("login")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	const callers = 50
	var (
		wg     sync.WaitGroup
		locked atomic.Int32
	)
	for range callers {
		wg.Go(func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
			if rec.Code == http.StatusTooManyRequests {
				locked.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(3), reached.Load(), "credential checks past the free retries")
	s.Equal(int32(callers-3), locked.Load())
}

func (s *MiddlewareSuite) TestBruteForceResetOnSuccess() {
	cfg := testConfig()
	cfg.BruteForce.ResetOnSuccess = true
	m := s.newMiddleware(cfg)

	fail := m.BruteForce("login")(statusHandler(http.StatusUnprocessableEntity))
	succeed := m.BruteForce("login")(okHandler())

	fail.ServeHTTP(httptest.NewRecorder(), newRequest("1.2.3.4", nil))
	succeed.ServeHTTP(httptest.NewRecorder(), newRequest("1.2.3.4", nil))
	fail.ServeHTTP(httptest.NewRecorder(), newRequest("1.2.3.4", nil))

	rec := httptest.NewRecorder()
	succeed.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *MiddlewareSuite) TestGlobalThrottle() {
	m := New(s.logger, WithThrottle(globalthrottle.New(config.GlobalThrottleConfig{RequestsPerSecond: 1, Burst: 1}, nil)))
	handler := m.GlobalThrottle()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal("1", rec.Header().Get("Retry-After"))
	s.Equal("service-unavailable", decodeError(s, rec).Error)

	s.Run("disabled throttle allows everything", func() {
		m := New(s.logger, WithThrottle(globalthrottle.New(config.GlobalThrottleConfig{}, nil)))
		for range 5 {
			rec := httptest.NewRecorder()
			m.GlobalThrottle()(okHandler()).ServeHTTP(rec, newRequest("1.2.3.4", nil))
			s.Equal(http.StatusOK, rec.Code)
		}
	})
}

type degradedRequests struct{}

func (degradedRequests) Check(context.Context, string, *domain.APIKeyRecord) (*models.RateLimitResult, error) {
	return &models.RateLimitResult{Allowed: true, Limit: 10, Remaining: 9, Degraded: true}, nil
}

func (s *MiddlewareSuite) TestDegradedStatusHeader() {
	m := New(s.logger, WithRequestLimiter(degradedRequests{}))
	rec := httptest.NewRecorder()
	m.RateLimit()(okHandler()).ServeHTTP(rec, newRequest("1.2.3.4", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("degraded", rec.Header().Get(HeaderStatus))
}

func (s *MiddlewareSuite) TestDisabled() {
	m := s.newMiddleware(testConfig(), WithDisabled(true))
	handler := m.RateLimit()(okHandler())
	for range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("1.2.3.4", nil))
		s.Equal(http.StatusOK, rec.Code)
	}
}
