package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the process metrics. Packages register against Registerer so
// tests can use a fresh registry each time.
type Registry struct {
	Registerer     prometheus.Registerer
	gatherer       prometheus.Gatherer
	RequestsServed *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Registry{
		Registerer: reg,
		gatherer:   reg,
		RequestsServed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_http_requests_total",
			Help: "Requests served, by status class",
		}, []string{"class"}),
	}
}

// Handler exposes the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveStatus counts a finished request.
func (r *Registry) ObserveStatus(status int) {
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	r.RequestsServed.WithLabelValues(class).Inc()
}
