package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS emits cross-origin headers for the same allow-list OriginGuard enforces.
// Credentials are allowed so browsers send the csrf_token cookie.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader, CSRFHeaderName},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:           3600,
		AllowCredentials: true,
	})

	return handler.Handler
}
