// Package metrics provides Prometheus instrumentation for contrapull.
package metrics

import "time"

// Lookup records one explorer verification lookup and its latency.
func Lookup(status string, duration time.Duration) {
	if !enabled {
		return
	}
	lookupsTotal.WithLabelValues(status).Inc()
	lookupDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// AddressProcessed records the terminal outcome of one pipeline address.
func AddressProcessed(status string) {
	if !enabled {
		return
	}
	addressesTotal.WithLabelValues(status).Inc()
}

// BundleDecoded records the decoded kind of one source payload.
func BundleDecoded(kind string) {
	if !enabled {
		return
	}
	bundlesTotal.WithLabelValues(kind).Inc()
}

// ProxyResolution records a proxy implementation resolution attempt.
func ProxyResolution(status string) {
	if !enabled {
		return
	}
	proxyResolutionsTotal.WithLabelValues(status).Inc()
}

// FilesWritten records source files written to disk.
func FilesWritten(count int) {
	if !enabled {
		return
	}
	filesWrittenTotal.Add(float64(count))
}
