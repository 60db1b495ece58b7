// Package metrics exports resolution, inventory and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResolutionMetrics = (*Metrics)(nil)

const namespace = "syskeys"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	resolutions   *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	keys          *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves from gatherer.
// Registering twice on the same registry panics.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Provider key resolutions by source and whether they were served from cache.",
			},
			[]string{"provider", "source", "cached"},
		),
		storeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_failures_total",
				Help:      "Credential store lookups that failed and fell back to the environment.",
			},
			[]string{"provider"},
		),
		keys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "keys",
				Help:      "Stored credentials by state, as of the last maintenance sweep.",
			},
			[]string{"state"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Admin API requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Admin API request latency.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveResolution counts one GetKey outcome.
func (m *Metrics) ObserveResolution(provider model.ProviderID, source model.Source, cached bool) {
	m.resolutions.WithLabelValues(string(provider), string(source), strconv.FormatBool(cached)).Inc()
}

// ObserveStoreFailure counts one failed store lookup.
func (m *Metrics) ObserveStoreFailure(provider model.ProviderID) {
	m.storeFailures.WithLabelValues(string(provider)).Inc()
}

// ObserveKeyStats publishes the inventory gauges.
func (m *Metrics) ObserveKeyStats(stats model.KeyStats) {
	m.keys.WithLabelValues("total").Set(float64(stats.Total))
	m.keys.WithLabelValues("active").Set(float64(stats.Active))
	m.keys.WithLabelValues("expired").Set(float64(stats.Expired))
	m.keys.WithLabelValues("due_for_rotation").Set(float64(stats.DueForRotation))
}

// ObserveHTTPRequest records one handled admin request. route is the mux
// pattern, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
