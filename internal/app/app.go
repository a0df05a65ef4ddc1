package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go-pcg-core/docs"
	"go-pcg-core/internal/config"
	"go-pcg-core/internal/database"
	"go-pcg-core/internal/event"
	"go-pcg-core/internal/handler"
	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/ratelimit"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/repository/memory"
	"go-pcg-core/internal/router"
	"go-pcg-core/internal/security"
	"go-pcg-core/internal/service"
	"go-pcg-core/internal/storage"
	"go-pcg-core/internal/websocket"
)

type App struct {
	server       *http.Server
	jobs         *service.JobService
	resets       *service.ResetService
	jobNotifier  *service.JobNotifier
	hub          *websocket.Hub
	logger       *slog.Logger
	cleanupFuncs []func()
}

type stores struct {
	identities repository.IdentityStore
	jobs       repository.JobStore
	audit      repository.AuditStore
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	ctx := context.Background()

	checks := map[string]handler.Pinger{}

	st, err := a.openStores(ctx, cfg, checks)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	limiterStore, err := a.openLimiterStore(ctx, cfg, checks)
	if err != nil {
		a.cleanup()
		return nil, err
	}
	limiter := ratelimit.NewLimiter(limiterStore, cfg.RateLimitMaxRequests, cfg.RateLimitWindow())

	hasher, err := security.NewHasher(cfg.HashAlgorithm, cfg.BcryptCost)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize hasher: %w", err)
	}

	codec, err := security.NewTokenCodec(cfg.JWTSecret)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	notifier := a.openNotifier(cfg)

	artifacts, err := storage.NewArtifactStore(cfg.ArtifactRoot)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	sessions, err := service.NewSessionService(st.identities, hasher, codec, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize session service: %w", err)
	}
	a.resets = service.NewResetService(st.identities, hasher, codec, notifier, cfg.ResetTokenTTL, cfg.ResetURLBase, logger)
	guard := service.NewAccessGuard(st.identities, codec, logger)
	identities := service.NewIdentityService(st.identities, hasher, logger)
	auditService := service.NewAuditService(st.audit, logger)

	if err := identities.SeedAdmin(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		a.cleanup()
		return nil, err
	}

	bus := event.NewBus()
	producers := map[model.JobKind]service.Producer{
		model.JobKindReport:       service.NewReportProducer(artifacts),
		model.JobKindNotification: service.NewNotificationProducer(notifier, st.identities),
	}
	a.jobs = service.NewJobService(st.jobs, producers, artifacts, bus, service.JobConfig{
		Workers:      cfg.JobWorkers,
		QueueSize:    cfg.JobQueueSize,
		Timeout:      cfg.JobTimeout,
		StuckAfter:   cfg.JobStuckAfter,
		ReapInterval: cfg.JobReapInterval,
	}, logger)
	a.jobNotifier = service.NewJobNotifier(bus, notifier, st.identities, logger)
	a.hub = websocket.NewHub(bus, logger)

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(guard), limiter, router.Handlers{
		Auth:   handler.NewAuthHandler(sessions, a.resets, auditService, cfg.CSRFCookieSecure),
		Jobs:   handler.NewJobsHandler(a.jobs, auditService),
		Audit:  handler.NewAuditHandler(auditService),
		Users:  handler.NewUserHandler(identities),
		Health: handler.NewHealthHandler(checks),
		Docs:   handler.NewDocsHandler(docs.OpenAPI),
		Events: a.hub,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, checks map[string]handler.Pinger) (stores, error) {
	if cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL not set, using in-memory stores; data is lost on restart")
		return stores{
			identities: memory.NewIdentityStore(),
			jobs:       memory.NewJobStore(),
			audit:      memory.NewAuditStore(10000),
		}, nil
	}

	a.logger.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return stores{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	if err := db.EnsureSchema(ctx); err != nil {
		return stores{}, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	checks["database"] = handler.PingerFunc(db.Health)
	a.logger.Info("database ready")

	return stores{
		identities: repository.NewIdentityRepository(db.Pool),
		jobs:       repository.NewJobRepository(db.Pool),
		audit:      repository.NewAuditRepository(db.Pool),
	}, nil
}

func (a *App) openLimiterStore(ctx context.Context, cfg *config.Config, checks map[string]handler.Pinger) (ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open while redis is unreachable.
		a.logger.Warn("redis unreachable at startup", "error", err)
	}

	checks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	a.logger.Info("rate limiting backed by redis")

	return ratelimit.NewRedisStore(client, "pcg:ratelimit:"), nil
}

func (a *App) openNotifier(cfg *config.Config) notify.Notifier {
	switch cfg.Notifier {
	case "webhook":
		a.logger.Info("notifications via webhook", "url", cfg.NotifyWebhookURL)
		return notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.NotifyWebhookURL}, a.logger)
	case "kafka":
		kafkaNotifier := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.NotifyKafkaBrokers), cfg.NotifyKafkaTopic)
		a.cleanupFuncs = append(a.cleanupFuncs, func() {
			if err := kafkaNotifier.Close(); err != nil {
				a.logger.Warn("close kafka writer", "error", err)
			}
		})
		a.logger.Info("notifications via kafka", "topic", cfg.NotifyKafkaTopic)
		return kafkaNotifier
	default:
		return notify.NewLogNotifier(a.logger)
	}
}

func (a *App) Run() error {
	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	a.jobs.Start(background)
	go a.jobNotifier.Run(background)
	go a.hub.Run(background)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	stopBackground()
	a.jobs.Wait()
	a.resets.Wait()
	a.cleanup()

	a.logger.Info("server stopped")
	return runErr
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
