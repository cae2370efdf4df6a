package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/platform/metrics"
	ratelimithandler "gatehouse/internal/ratelimit/handler"
	ratelimitmw "gatehouse/internal/ratelimit/middleware"
	"gatehouse/pkg/platform/httputil"
	adminmw "gatehouse/pkg/platform/middleware/admin"
	auth "gatehouse/pkg/platform/middleware/auth"
	metadata "gatehouse/pkg/platform/middleware/metadata"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/platform/middleware/requesttime"
	"gatehouse/pkg/platform/middleware/version"
)

const apiVersion = "1"

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router wires together. Limits and Gate are
// required; the rest are optional.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Registry
	Limits     *ratelimitmw.Middleware
	Gate       auth.Authenticator
	Identity   AuthService
	Admin      *ratelimithandler.Handler
	AdminToken string
	Health     map[string]HealthCheck
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
	// Clock fixes request time; nil uses the wall clock.
	Clock func() time.Time
}

// NewRouter builds the request pipeline. Every request passes recovery,
// request id, request time, client metadata and access logging. Routes under
// the abuse-control group then pass the global throttle, the speed limiter and
// the rate limiter, in that order; guarded auth routes add the brute-force
// guard and protected routes the authentication gate.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	if d.Clock != nil {
		r.Use(requesttime.WithClock(d.Clock))
	} else {
		r.Use(requesttime.Middleware)
	}
	r.Use(metadata.ClientMetadata(d.TrustedProxies))
	r.Use(request.Logger(d.Logger))
	r.Use(observeStatus(d.Metrics))

	r.Get("/healthz", handleHealth(d.Health))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Limits.GlobalThrottle())
		r.Use(d.Limits.SpeedLimit())
		r.Use(d.Limits.RateLimit())

		r.Route("/v1", func(v1 chi.Router) {
			v1.Use(version.ExtractVersion(apiVersion))
			if d.Identity != nil {
				NewAuthHandler(d.Identity, d.Logger).Register(v1, d.Limits.BruteForce)
			}
			v1.With(auth.RequireAuth(d.Gate, d.Logger)).Get("/me", handleMe)
		})

		if d.Admin != nil {
			r.Group(func(r chi.Router) {
				r.Use(adminmw.RequireAdminToken(d.AdminToken, d.Logger))
				d.Admin.RegisterAdmin(r)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "not-found"})
	})
	return r
}

func observeStatus(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if reg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := request.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)
			reg.ObserveStatus(rec.Status)
		})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
