// Package realip resolves the real client IP for requests arriving
// through a trusted reverse proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ClientIPKey is the context key for the resolved client IP
const ClientIPKey contextKey = "client_ip"

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For header parsing
	TrustProxy bool
	// TrustedProxies is a list of CIDR ranges (bare IPs also accepted)
	TrustedProxies []string
}

// Middleware resolves the client IP once per request and stores it in the
// request context for the logging and rate limit middleware. Forwarding
// headers are honored only when the connection peer is inside a trusted
// range; otherwise the peer address wins.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	var trusted []netip.Prefix
	if cfg.TrustProxy {
		trusted = parsePrefixes(cfg.TrustedProxies)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := resolveClientIP(r, cfg.TrustProxy, trusted)
			ctx := context.WithValue(r.Context(), ClientIPKey, clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parsePrefixes converts configured CIDR strings to prefixes. Bare IPs
// become single-address prefixes. Invalid entries are dropped rather than
// failing startup.
func parsePrefixes(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		if p, err := netip.ParsePrefix(cidr); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(cidr); err == nil {
			a = a.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return prefixes
}

// resolveClientIP picks the client IP for the request
func resolveClientIP(r *http.Request, trustProxy bool, trusted []netip.Prefix) string {
	peer := peerIP(r.RemoteAddr)

	if !trustProxy || !inTrusted(peer, trusted) {
		return peer
	}

	// Walk X-Forwarded-For right to left; the first hop outside the
	// trusted ranges is the client.
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		// Try X-Real-IP as fallback
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !inTrusted(hop, trusted) {
			return hop
		}
	}

	// Every hop is a trusted proxy; the leftmost entry is the original client
	return strings.TrimSpace(hops[0])
}

// peerIP strips the port from a connection address
func peerIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// inTrusted reports whether ipStr falls inside any trusted prefix.
// IPv4-mapped IPv6 addresses are unmapped first so "::ffff:10.0.0.1"
// matches an IPv4 range.
func inTrusted(ipStr string, trusted []netip.Prefix) bool {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()

	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// GetClientIP retrieves the resolved client IP from the request context.
// Falls back to the connection peer if the middleware did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r.RemoteAddr)
}
