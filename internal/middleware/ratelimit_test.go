package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-pcg-core/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newWindowLimiter(max int, window time.Duration) (*ratelimit.Limiter, *steppingClock) {
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), max, window)
	limiter.SetClock(clock.Now)
	return limiter, clock
}

func doRequest(handler http.Handler, method string, path string, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware_WindowAndRollover(t *testing.T) {
	limiter, clock := newWindowLimiter(3, time.Minute)
	handler := NewRateLimitMiddleware(limiter, "", 0).Handler(okHandler)

	for i := 0; i < 3; i++ {
		rec := doRequest(handler, http.MethodGet, "/api/v1/jobs", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := doRequest(handler, http.MethodGet, "/api/v1/jobs", "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")

	other := doRequest(handler, http.MethodGet, "/api/v1/jobs", "10.0.0.2:5000")
	assert.Equal(t, http.StatusOK, other.Code, "limits are per client")

	clock.Advance(time.Minute)
	rec = doRequest(handler, http.MethodGet, "/api/v1/jobs", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, rec.Code, "window rolls over lazily")
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddleware_AuthThrottle(t *testing.T) {
	limiter, _ := newWindowLimiter(100, time.Minute)
	handler := NewRateLimitMiddleware(limiter, "/api/v1/auth", 1).Handler(okHandler)

	first := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, first.Code)

	// burst of 1: the second immediate credential attempt is throttled
	second := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	safe := doRequest(handler, http.MethodGet, "/api/v1/auth/csrf", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, safe.Code, "safe methods are not throttled")

	elsewhere := doRequest(handler, http.MethodPost, "/api/v1/jobs", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, elsewhere.Code)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis: connection refused")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	handler := NewRateLimitMiddleware(ratelimit.NewLimiter(failingStore{}, 1, time.Minute), "", 0).Handler(okHandler)

	for i := 0; i < 3; i++ {
		rec := doRequest(handler, http.MethodGet, "/", "10.0.0.1:5000")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddleware_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	limiter, _ := newWindowLimiter(3, time.Minute)
	handler := RealIP(nil)(NewRateLimitMiddleware(limiter, "", 0).Handler(okHandler))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}

	assert.Equal(t, 3, allowed, "rotating headers share the peer's bucket")
}

func TestRateLimitMiddleware_TrustedProxyForwardsClients(t *testing.T) {
	limiter, _ := newWindowLimiter(1, time.Minute)
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	handler := RealIP(trusted)(NewRateLimitMiddleware(limiter, "", 0).Handler(okHandler))

	send := func(remote string, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000", "198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000", "198.51.100.2"), "distinct clients behind the proxy")
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5000", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.2:5000", "203.0.113.9, 198.51.100.1"), "spoofed leftmost hop is ignored")
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}

	cases := []struct {
		name    string
		trusted []netip.Prefix
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer keeps socket address", trusted, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "192.0.2.9:4242", "192.0.2.9"},
		{"headers ignored without trusted proxies", nil, map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "10.0.0.1"},
		{"nearest untrusted hop", trusted, map[string]string{"X-Forwarded-For": "203.0.113.7, 198.51.100.4, 10.0.0.3"}, "10.0.0.1:80", "198.51.100.4"},
		{"all hops trusted", trusted, map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.3"}, "10.0.0.1:80", "10.0.0.9"},
		{"malformed hop", trusted, map[string]string{"X-Forwarded-For": "junk"}, "10.0.0.1:80", "10.0.0.1"},
		{"real ip from trusted proxy", trusted, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"ipv6 proxy", trusted, map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.5"}, "[2001:db8::2]:443", "203.0.113.5"},
		{"remote addr", trusted, nil, "192.0.2.9:4242", "192.0.2.9"},
		{"empty", trusted, nil, "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			var got string
			RealIP(tc.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tc.want, got)
		})
	}
}
