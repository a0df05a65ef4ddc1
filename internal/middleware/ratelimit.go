package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-pcg-core/internal/metrics"
	"go-pcg-core/internal/ratelimit"
)

type authThrottle struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies the fixed-window limit to every request and an
// additional token bucket to credential endpoints under authPrefix.
type RateLimitMiddleware struct {
	window     *ratelimit.Limiter
	authPrefix string
	authRPM    int
	mu         sync.Mutex
	clients    map[string]*authThrottle
}

func NewRateLimitMiddleware(window *ratelimit.Limiter, authPrefix string, authRPM int) *RateLimitMiddleware {
	if authRPM <= 0 {
		authRPM = 10
	}

	return &RateLimitMiddleware{
		window:     window,
		authPrefix: strings.ToLower(authPrefix),
		authRPM:    authRPM,
		clients:    map[string]*authThrottle{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIP(r)

		decision, err := m.window.Allow(r.Context(), clientIP)
		if err != nil {
			slog.WarnContext(r.Context(), "rate limit store failed, allowing request", "client_ip", clientIP, "error", err)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(m.window.Max(), 10))
		if !decision.Allowed {
			w.Header().Set("X-RateLimit-Remaining", "0")
			rejectRateLimited(w, "window", decision.RetryAfter)
			return
		}
		if err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		}

		if m.isCredentialRequest(r) && !m.getThrottle(clientIP).Allow() {
			rejectRateLimited(w, "auth_throttle", time.Minute/time.Duration(m.authRPM))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) isCredentialRequest(r *http.Request) bool {
	if m.authPrefix == "" || isSafeMethod(r.Method) {
		return false
	}
	return strings.HasPrefix(strings.ToLower(r.URL.Path), m.authPrefix)
}

func rejectRateLimited(w http.ResponseWriter, check string, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	metrics.BoundaryRejections.WithLabelValues("rate_limit_" + check).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
}

func (m *RateLimitMiddleware) getThrottle(clientIP string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if throttle, exists := m.clients[clientIP]; exists {
		throttle.lastSeen = time.Now()
		m.gcLocked()
		return throttle.limiter
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.authRPM)), m.authRPM)
	m.clients[clientIP] = &authThrottle{limiter: limiter, lastSeen: time.Now()}
	m.gcLocked()

	return limiter
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, throttle := range m.clients {
		if throttle.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}
