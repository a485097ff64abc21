// Package metrics provides Prometheus instrumentation for contrapull.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware returns HTTP middleware for request metrics.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()

			// Normalize path to avoid high cardinality from addresses
			path := normalizePath(r.URL.Path)

			httpRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(rw.status),
			).Inc()

			httpDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		}()

		next.ServeHTTP(rw, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures status code.
func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// normalizePath converts dynamic path segments to placeholders to avoid
// high cardinality metrics. For example:
//
//	/api/v1/contracts/0x1234.../files/contracts/Token.sol -> /api/v1/contracts/{address}/files/{path}
func normalizePath(path string) string {
	// Health check endpoints - keep as-is
	if path == "/health" || path == "/healthz" || path == "/readyz" {
		return path
	}
	// Metrics endpoint - keep as-is
	if path == "/metrics" {
		return path
	}

	if strings.HasPrefix(path, "/api/v1/") {
		parts := strings.Split(strings.Trim(path[len("/api/v1/"):], "/"), "/")
		if len(parts) == 0 || parts[0] == "" {
			return path
		}

		normalized := []string{"/api/v1", parts[0]}
		for i := 1; i < len(parts); i++ {
			part := parts[i]
			if part == "" {
				continue
			}
			// Everything below files/ is an arbitrary bundle path
			if part == "files" {
				normalized = append(normalized, "files", "{path}")
				break
			}
			if isAddress(part) {
				normalized = append(normalized, "{address}")
			} else if isLikelyID(part) {
				normalized = append(normalized, "{id}")
			} else {
				normalized = append(normalized, part)
			}
		}
		return strings.Join(normalized, "/")
	}
	return path
}

// isAddress returns true if segment looks like a 0x-prefixed contract address
func isAddress(segment string) bool {
	return len(segment) == 42 && strings.HasPrefix(segment, "0x") && isHex(segment[2:])
}

// isLikelyID returns true if segment looks like an identifier
func isLikelyID(segment string) bool {
	// Hash strings (transaction IDs, full-length hashes)
	if len(segment) >= 64 && isHex(strings.TrimPrefix(segment, "0x")) {
		return true
	}
	// UUIDs with dashes
	if strings.Count(segment, "-") >= 4 {
		return true
	}
	// Pure numbers
	if isNumeric(segment) {
		return true
	}
	return false
}

// isHex returns true if string is hexadecimal (supports both upper and lowercase)
func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}

// isNumeric returns true if string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
