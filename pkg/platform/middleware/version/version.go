// Package version stamps responses with the API version that served them.
package version

import (
	"context"
	"net/http"
)

const Header = "X-Api-Version"

type contextKeyVersion struct{}

// ExtractVersion records version for the route group and advertises it in the
// X-Api-Version response header.
//
// Usage:
//
//	r.Route("/v1", func(v1 chi.Router) {
//	    v1.Use(version.ExtractVersion("1"))
//	    // ... routes
//	})
func ExtractVersion(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(Header, version)
			ctx := context.WithValue(r.Context(), contextKeyVersion{}, version)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the API version of the matched route group, if any.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyVersion{}).(string); ok {
		return v
	}
	return ""
}
