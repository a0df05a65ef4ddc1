package middleware

import (
	"net/http"
	"strings"

	"go-pcg-core/internal/metrics"
)

// OriginGuard rejects requests whose Origin header is present and not in
// allowed. Requests without an Origin header pass.
func OriginGuard(allowed []string) func(http.Handler) http.Handler {
	allowSet := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			wildcard = true
		}
		allowSet[strings.ToLower(origin)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || wildcard {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowSet[strings.ToLower(strings.TrimRight(origin, "/"))]; !ok {
				metrics.BoundaryRejections.WithLabelValues("origin").Inc()
				writeJSONError(w, http.StatusForbidden, "ORIGIN_NOT_ALLOWED", "origin not allowed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
