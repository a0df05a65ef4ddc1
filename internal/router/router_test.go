package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-pcg-core/internal/config"
	"go-pcg-core/internal/event"
	"go-pcg-core/internal/handler"
	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/ratelimit"
	"go-pcg-core/internal/repository/memory"
	"go-pcg-core/internal/security"
	"go-pcg-core/internal/service"
	"go-pcg-core/internal/storage"
	"go-pcg-core/internal/websocket"
)

const password = "correct-horse-9"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outbox struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outbox) last(t *testing.T) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.messages)
	return o.messages[len(o.messages)-1]
}

type testServer struct {
	handler http.Handler
	clock   *clock
	outbox  *outbox
	resets  *service.ResetService
}

func newTestServer(t *testing.T, maxRequests int) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Now().UTC()}
	out := &outbox{}

	cfg := &config.Config{
		RequestTimeout:         5 * time.Second,
		AllowedOrigins:         []string{"https://pcg.example.org"},
		RateLimitWindowSeconds: 60,
		RateLimitMaxRequests:   maxRequests,
		AuthRateLimitRPM:       600,
		CSRFEnabled:            true,
	}

	identities := memory.NewIdentityStore()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	codec, err := security.NewTokenCodec("router-test-signing-key-0001")
	require.NoError(t, err)
	codec.SetClock(clk.Now)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), cfg.RateLimitMaxRequests, cfg.RateLimitWindow())
	limiter.SetClock(clk.Now)

	sessions, err := service.NewSessionService(identities, hasher, codec, 15*time.Minute, 24*time.Hour, logger)
	require.NoError(t, err)
	resets := service.NewResetService(identities, hasher, codec, out, 30*time.Minute, "https://pcg.example.org/reset", logger)
	resets.SetClock(clk.Now)
	guard := service.NewAccessGuard(identities, codec, logger)
	users := service.NewIdentityService(identities, hasher, logger)
	audit := service.NewAuditService(memory.NewAuditStore(100), logger)

	artifacts, err := storage.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	bus := event.NewBus()
	hub := websocket.NewHub(bus, logger)
	jobs := service.NewJobService(memory.NewJobStore(), map[model.JobKind]service.Producer{
		model.JobKindReport: service.NewReportProducer(artifacts),
	}, artifacts, bus, service.JobConfig{
		Workers:      1,
		QueueSize:    8,
		Timeout:      5 * time.Second,
		StuckAfter:   time.Minute,
		ReapInterval: time.Minute,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		jobs.Wait()
		resets.Wait()
	})

	seed := func(email string, role model.Role) {
		_, err := users.Register(context.Background(), model.CreateIdentityRequest{
			Email:    email,
			Password: password,
			Role:     string(role),
		})
		require.NoError(t, err)
	}
	seed("admin@pcg.example.org", model.RoleAdmin)
	seed("ana@pcg.example.org", model.RoleResearcher)

	h := New(cfg, middleware.NewAuthMiddleware(guard), limiter, Handlers{
		Auth:   handler.NewAuthHandler(sessions, resets, audit, false),
		Jobs:   handler.NewJobsHandler(jobs, audit),
		Audit:  handler.NewAuditHandler(audit),
		Users:  handler.NewUserHandler(users),
		Health: handler.NewHealthHandler(nil),
		Docs:   handler.NewDocsHandler([]byte("openapi: 3.0.3\n")),
		Events: hub,
	})

	return &testServer{handler: h, clock: clk, outbox: out, resets: resets}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type call struct {
	method string
	path   string
	body   any
	token  string
	csrf   string
}

func (s *testServer) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	req.RemoteAddr = "203.0.113.7:40000"
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, c.csrf)
		req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: c.csrf})
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) csrfToken(t *testing.T) string {
	t.Helper()

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/csrf"})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.CSRFToken)

	var cookie string
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.CSRFCookieName {
			cookie = c.Value
		}
	}
	require.Equal(t, data.CSRFToken, cookie)
	return data.CSRFToken
}

func (s *testServer) login(t *testing.T, csrf string, email string) model.TokenPair {
	t.Helper()

	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   model.LoginRequest{Username: email, Password: password},
		csrf:   csrf,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &tokens))
	return tokens
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)
	tokens := s.login(t, csrf, "admin@pcg.example.org")

	// status of the identity endpoint and of a role-protected one
	reach := func(access string) (int, int) {
		me, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/me", token: access})
		ping, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/ping", token: access})
		return me.Code, ping.Code
	}

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/me", token: tokens.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.AuthUser
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "admin@pcg.example.org", me.Email)
	assert.Equal(t, model.RoleAdmin, me.Role)

	meCode, pingCode := reach(tokens.AccessToken)
	assert.Equal(t, http.StatusOK, meCode)
	assert.Equal(t, http.StatusOK, pingCode)

	s.clock.Advance(16 * time.Minute)

	rec, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/ping", token: tokens.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	meCode, _ = reach(tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, meCode)

	rec, env = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/refresh",
		body:   model.RefreshRequest{RefreshToken: tokens.RefreshToken},
		csrf:   csrf,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &rotated))

	meCode, pingCode = reach(rotated.AccessToken)
	assert.Equal(t, http.StatusOK, meCode)
	assert.Equal(t, http.StatusOK, pingCode, "refreshed token keeps the admin role")

	rec, env = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/refresh",
		body:   model.RefreshRequest{RefreshToken: tokens.RefreshToken},
		csrf:   csrf,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", env.Error.Code)

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/auth/logout", token: rotated.AccessToken, csrf: csrf})
	require.Equal(t, http.StatusOK, rec.Code)

	meCode, pingCode = reach(rotated.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, meCode)
	assert.Equal(t, http.StatusUnauthorized, pingCode)
}

func TestUnsafeRequestsRequireCSRF(t *testing.T) {
	s := newTestServer(t, 100)

	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   model.LoginRequest{Username: "ana@pcg.example.org", Password: password},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CSRF_INVALID", env.Error.Code)
}

func TestForeignOriginRejected(t *testing.T) {
	s := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ORIGIN_NOT_ALLOWED")
}

func TestRateLimitWindow(t *testing.T) {
	s := newTestServer(t, 3)

	for i := 0; i < 3; i++ {
		rec, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/csrf"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/csrf"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	s.clock.Advance(61 * time.Second)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/csrf"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleChecks(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)

	rec, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/ping"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	researcher := s.login(t, csrf, "ana@pcg.example.org")
	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/ping", token: researcher.AccessToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	admin := s.login(t, csrf, "admin@pcg.example.org")
	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/ping", token: admin.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/audit", token: admin.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDeactivationRevokesSessions(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)

	admin := s.login(t, csrf, "admin@pcg.example.org")
	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/admin/users",
		body: model.CreateIdentityRequest{
			Email:    "eva@pcg.example.org",
			Password: password,
			Role:     string(model.RoleExternalEvaluator),
		},
		token: admin.AccessToken,
		csrf:  csrf,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.AuthUser
	require.NoError(t, json.Unmarshal(env.Data, &created))

	evaluator := s.login(t, csrf, "eva@pcg.example.org")

	rec, _ = s.do(t, call{
		method: http.MethodPut,
		path:   "/api/v1/admin/users/" + created.ID + "/status",
		body:   model.UpdateStatusRequest{Status: "inactive"},
		token:  admin.AccessToken,
		csrf:   csrf,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/me", token: evaluator.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   model.LoginRequest{Username: "eva@pcg.example.org", Password: password},
		csrf:   csrf,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ACCOUNT_INACTIVE", env.Error.Code)
}

func TestJobSubmitAndPoll(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)
	tokens := s.login(t, csrf, "ana@pcg.example.org")

	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/jobs",
		body:   model.CreateJobRequest{Kind: "report", Params: map[string]any{"title": "Q3 summary"}},
		token:  tokens.AccessToken,
		csrf:   csrf,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job model.Job
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, model.JobPending, job.State)

	require.Eventually(t, func() bool {
		rec, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/jobs/" + job.ID, token: tokens.AccessToken})
		if rec.Code != http.StatusOK {
			return false
		}
		var polled model.Job
		if err := json.Unmarshal(env.Data, &polled); err != nil {
			return false
		}
		job = polled
		return polled.State == model.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, job.ResultLocation)
	assert.True(t, strings.HasSuffix(*job.ResultLocation, "-q3_summary.json"))

	rec, env = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/jobs",
		body:   model.CreateJobRequest{Kind: "notification"},
		token:  tokens.AccessToken,
		csrf:   csrf,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)

	admin := s.login(t, csrf, "admin@pcg.example.org")
	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/jobs/" + job.ID, token: admin.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/jobs/does-not-exist", token: tokens.AccessToken})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobEventsStream(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)
	tokens := s.login(t, csrf, "ana@pcg.example.org")

	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/events"

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + tokens.AccessToken}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// registration is asynchronous; give the hub a moment before submitting
	time.Sleep(20 * time.Millisecond)

	rec, _ := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/jobs",
		body:   model.CreateJobRequest{Kind: "report"},
		token:  tokens.AccessToken,
		csrf:   csrf,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	seen := map[string]bool{}
	for !seen["job.completed"] {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var e struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &e))
		seen[e.Type] = true
	}
	assert.True(t, seen["job.started"])
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, 100)
	csrf := s.csrfToken(t)
	before := s.login(t, csrf, "ana@pcg.example.org")

	for _, email := range []string{"ana@pcg.example.org", "nobody@pcg.example.org"} {
		rec, env := s.do(t, call{
			method: http.MethodPost,
			path:   "/api/v1/auth/recuperar-contraseña",
			body:   model.ResetRequest{Email: email},
			csrf:   csrf,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, string(env.Data), "If the email is registered")
	}

	s.resets.Wait()
	msg := s.outbox.last(t)
	assert.Equal(t, "ana@pcg.example.org", msg.Recipient)
	lines := strings.Split(strings.TrimSpace(msg.Body), "\n")
	link, err := url.Parse(strings.TrimSpace(lines[len(lines)-1]))
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/resetear-contraseña",
		body:   model.CompleteResetRequest{Token: token, NewPassword: strings.Repeat("ñ", 72)},
		csrf:   csrf,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "72 characters but over 72 bytes")
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	complete := call{
		method: http.MethodPost,
		path:   "/api/v1/auth/resetear-contraseña",
		body:   model.CompleteResetRequest{Token: token, NewPassword: "brand-new-secret-1"},
		csrf:   csrf,
	}
	rec, _ = s.do(t, complete)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.do(t, complete)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", env.Error.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/auth/me", token: before.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   model.LoginRequest{Username: "ana@pcg.example.org", Password: "brand-new-secret-1"},
		csrf:   csrf,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
