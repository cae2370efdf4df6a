package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitedTotal     *prometheus.CounterVec
	SlowedDownTotal      prometheus.Counter
	SlowDownDelaySeconds prometheus.Histogram
	AuthFailuresTotal    *prometheus.CounterVec
	LockoutsTotal        *prometheus.CounterVec
	LockedRejectsTotal   *prometheus.CounterVec
	ThrottledTotal       prometheus.Counter
	DegradedChecksTotal  prometheus.Counter
	StoreErrorsTotal     *prometheus.CounterVec
}

// New registers the abuse-control metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by tier",
		}, []string{"tier"}),
		SlowedDownTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_slowdown_delayed_total",
			Help: "Requests delayed by the speed limiter",
		}),
		SlowDownDelaySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatehouse_slowdown_delay_seconds",
			Help:    "Delay applied by the speed limiter",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AuthFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_bruteforce_failures_recorded_total",
			Help: "Failed attempts recorded on guarded routes, by scope",
		}, []string{"scope"}),
		LockoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_bruteforce_lockouts_total",
			Help: "Lockouts started on guarded routes, by scope",
		}, []string{"scope"}),
		LockedRejectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_bruteforce_rejected_total",
			Help: "Attempts rejected while locked out, by scope",
		}, []string{"scope"}),
		ThrottledTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_global_throttle_rejected_total",
			Help: "Requests shed by the per-instance global throttle",
		}),
		DegradedChecksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_ratelimit_degraded_checks_total",
			Help: "Abuse-control checks served by the local fallback store",
		}),
		StoreErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_ratelimit_store_errors_total",
			Help: "Counter store failures by limiter; the request is let through",
		}, []string{"limiter"}),
	}
}

// The helpers below accept a nil receiver so services can run without metrics.

func (m *Metrics) RecordRateLimited(tier string) {
	if m != nil {
		m.RateLimitedTotal.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) RecordSlowDown(delay time.Duration) {
	if m != nil {
		m.SlowedDownTotal.Inc()
		m.SlowDownDelaySeconds.Observe(delay.Seconds())
	}
}

func (m *Metrics) RecordAuthFailure(scope string) {
	if m != nil {
		m.AuthFailuresTotal.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) RecordLockout(scope string) {
	if m != nil {
		m.LockoutsTotal.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) RecordLockedReject(scope string) {
	if m != nil {
		m.LockedRejectsTotal.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) RecordThrottled() {
	if m != nil {
		m.ThrottledTotal.Inc()
	}
}

func (m *Metrics) RecordDegraded() {
	if m != nil {
		m.DegradedChecksTotal.Inc()
	}
}

func (m *Metrics) RecordStoreError(limiter string) {
	if m != nil {
		m.StoreErrorsTotal.WithLabelValues(limiter).Inc()
	}
}
