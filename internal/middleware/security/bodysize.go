package security

import (
	"net/http"
)

// MaxBodySizeMiddleware returns middleware that limits the request body size.
// The limit is specified in megabytes. A zero or negative limit disables the
// cap, though the server only ever accepts bodies on the run-submission
// endpoint so the default limit is small.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	if maxSizeMB <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	maxBytes := int64(maxSizeMB) * 1024 * 1024

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
