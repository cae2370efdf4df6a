package metadata

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"gatehouse/pkg/requestcontext"
)

// ClientMetadata extracts client IP address, User-Agent and Referer from the
// request and adds them to the context for use by the admission layer.
// Forwarding headers are honoured only when the connection comes from one of
// trustedProxies. This middleware should be applied early in the chain.
func ClientMetadata(trustedProxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromRequest(r, trustedProxies)
			ctx := requestcontext.WithClientMetadata(r.Context(), ip, r.Header.Get("User-Agent"))
			ctx = requestcontext.WithReferrer(ctx, r.Header.Get("Referer"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP retrieves the client IP address from the context.
func GetClientIP(ctx context.Context) string {
	return requestcontext.ClientIP(ctx)
}

// GetUserAgent retrieves the User-Agent from the context.
func GetUserAgent(ctx context.Context) string {
	return requestcontext.UserAgent(ctx)
}

// GetReferrer retrieves the Referer header value from the context.
func GetReferrer(ctx context.Context) string {
	return requestcontext.Referrer(ctx)
}

// ClientIPFromRequest returns the address of the client that sent r. The socket
// peer is the answer unless it is a trusted proxy. Behind one, X-Forwarded-For
// is walked from the right and the first hop that is not itself a trusted
// proxy is the client; X-Real-IP is used when no forwarded hop qualifies.
func ClientIPFromRequest(r *http.Request, trustedProxies []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !trusted(addr, trustedProxies) {
		return peer
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			// A malformed hop was written by something we do not trust.
			return peer
		}
		if !trusted(hop, trustedProxies) {
			return hop.Unmap().String()
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// forwardedHops flattens every X-Forwarded-For header, oldest hop first.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if hop := strings.TrimSpace(part); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

func trusted(addr netip.Addr, proxies []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
