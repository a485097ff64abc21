// Package metrics provides Prometheus instrumentation for contrapull.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Explorer lookup metrics
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// Pipeline metrics
	addressesTotal        *prometheus.CounterVec
	bundlesTotal          *prometheus.CounterVec
	proxyResolutionsTotal *prometheus.CounterVec
	filesWrittenTotal     prometheus.Counter
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Explorer lookup counter
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_lookups_total",
			Help: "Total number of explorer verification lookups",
		},
		[]string{"status"},
	)

	// Explorer lookup duration histogram
	lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_lookup_duration_seconds",
			Help:    "Explorer lookup latency in seconds, rate-limit wait included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Processed address counter
	addressesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addresses_processed_total",
			Help: "Total number of addresses processed by the pipeline",
		},
		[]string{"status"},
	)

	// Decoded bundle counter
	bundlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_bundles_total",
			Help: "Total number of decoded source bundles",
		},
		[]string{"kind"},
	)

	// Proxy resolution counter
	proxyResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_resolutions_total",
			Help: "Total number of proxy implementation resolutions",
		},
		[]string{"status"},
	)

	// Written file counter
	filesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_files_written_total",
			Help: "Total number of source files written to disk",
		},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
