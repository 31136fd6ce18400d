package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "taskplan"

var defaultDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

type registry struct {
	gatherer *prometheus.Registry

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func newRegistry() *registry {
	r := &registry{
		gatherer: prometheus.NewRegistry(),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total provider requests.",
		}, []string{"provider", "operation", "status", "error_category"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request duration in seconds.",
			Buckets:   defaultDurationBuckets,
		}, []string{"provider", "operation", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route"}),
	}
	r.gatherer.MustRegister(r.providerRequests, r.providerLatency, r.httpRequests, r.httpLatency)
	return r
}

var (
	mu             sync.RWMutex
	globalRegistry = newRegistry()
)

func current() *registry {
	mu.RLock()
	defer mu.RUnlock()
	return globalRegistry
}

func RecordProviderCall(provider string, operation string, status string, errorCategory string, duration time.Duration) {
	r := current()
	r.providerRequests.WithLabelValues(provider, operation, status, errorCategory).Inc()
	r.providerLatency.WithLabelValues(provider, operation, status).Observe(duration.Seconds())
}

func ObserveHTTPRequest(method string, route string, status string, duration time.Duration) {
	r := current()
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the exposition format for whichever registry is current.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r := current()
		promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, req)
	})
}

func Gather() ([]*dto.MetricFamily, error) {
	return current().gatherer.Gather()
}

func ResetForTests() {
	mu.Lock()
	defer mu.Unlock()
	globalRegistry = newRegistry()
}
