package middleware

import (
	"net/http"
	"strings"

	"go-pcg-core/internal/metrics"
	"go-pcg-core/internal/security"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRF enforces the double-submit check on unsafe methods: the X-CSRF-Token
// header must equal the csrf_token cookie.
func CSRF(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			header := strings.TrimSpace(r.Header.Get(CSRFHeaderName))
			cookie, err := r.Cookie(CSRFCookieName)
			if err != nil || header == "" || cookie.Value == "" ||
				!security.EqualSecrets(header, cookie.Value) {
				metrics.BoundaryRejections.WithLabelValues("csrf").Inc()
				writeJSONError(w, http.StatusForbidden, "CSRF_INVALID", "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IssueCSRFToken sets a fresh csrf_token cookie and returns its value. The
// cookie is readable by scripts so clients can echo it in the header.
func IssueCSRFToken(w http.ResponseWriter, secure bool) (string, error) {
	token, err := security.NewSecret()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}
