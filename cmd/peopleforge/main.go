package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	pfhttp "github.com/peopleforge/peopleforge/internal/adapter/http"
	pfnats "github.com/peopleforge/peopleforge/internal/adapter/nats"
	pfotel "github.com/peopleforge/peopleforge/internal/adapter/otel"
	"github.com/peopleforge/peopleforge/internal/adapter/postgres"
	"github.com/peopleforge/peopleforge/internal/adapter/ristretto"
	"github.com/peopleforge/peopleforge/internal/config"
	"github.com/peopleforge/peopleforge/internal/logger"
	"github.com/peopleforge/peopleforge/internal/middleware"
	"github.com/peopleforge/peopleforge/internal/port/messagequeue"
	"github.com/peopleforge/peopleforge/internal/resilience"
	"github.com/peopleforge/peopleforge/internal/service"
	"github.com/peopleforge/peopleforge/internal/tenant"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"rate_block_enabled", cfg.Rate.BlockEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS is optional: security events fall back to store-only.
	var queue messagequeue.Queue
	if q, err := pfnats.Connect(ctx, cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, security events go to store only", "error", err)
	} else {
		queue = q
		defer func() { _ = q.Drain() }()
	}

	providers, err := pfotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	var metrics *pfotel.Metrics
	if providers != nil {
		metrics, err = pfotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// --- Services ---

	store := postgres.NewStore(pool)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	resolver := tenant.NewResolver(store, l1, breaker, metrics,
		cfg.Tenant.CacheTTL, cfg.Postgres.QueryTimeout, log)
	moduleSvc := service.NewModuleService(store, l1, breaker,
		cfg.Tenant.CacheTTL, cfg.Postgres.QueryTimeout, log)
	securityLog := service.NewSecurityLog(store, queue, metrics, log)
	authSvc := service.NewAuthService(store, &cfg.Auth)

	rateLimiter := middleware.NewRateLimiter(cfg.Rate, securityLog)
	stopCleanup := rateLimiter.StartCleanup(cfg.Rate.CleanupEvery)
	defer stopCleanup()

	// --- HTTP ---

	handlers := &pfhttp.Handlers{
		Auth:     authSvc,
		Modules:  moduleSvc,
		Security: securityLog,
		Resolver: resolver,
		Store:    store,
		Queue:    queue,
		Breaker:  breaker,
	}

	r := chi.NewRouter()

	r.Use(pfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(pfhttp.SecurityHeaders)
	r.Use(pfhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if providers != nil {
		r.Use(pfotel.HTTPMiddleware(cfg.Logging.Service))
	}

	// Authorization pipeline: limits first, then tenant signals, then
	// identity, then the claim-based tenant upgrade. Guards bind per route.
	// The limiter keys on the socket address; forwarded headers are honored
	// only behind a trusted proxy (rate.trust_proxy).
	r.Use(rateLimiter.Handler)
	r.Use(middleware.TenantContext(resolver))
	r.Use(middleware.Auth(authSvc))
	r.Use(middleware.TenantEnhancer(resolver, log))

	pfhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
