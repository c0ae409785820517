package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/sequence"
	"github.com/hms/hms/internal/domain/triage"
	"github.com/hms/hms/internal/domain/visit"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/tenant"
	"github.com/hms/hms/internal/platform/websocket"
)

// services are the domain handlers mounted under /api/v1.
type services struct {
	visits *visit.Service
	queue  *queue.Service
	triage *triage.Service
	hub    *websocket.Hub
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "hms-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	}, logger)

	// Database
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Queue events: the hub serves this instance's board sockets. With Redis
	// every instance publishes to the channel and relays it into its hub.
	hub := websocket.NewHub(logger)
	var pub events.Publisher = hub
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		if err := events.NewRelay(client, events.DefaultChannel, hub, logger).Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start queue event relay")
		}
		pub = events.NewRedisPublisher(client, events.DefaultChannel)
		logger.Info().Msg("queue events relayed through redis")
	}

	tx := db.NewTxRunner(pool)
	queueSvc := queue.NewService(queue.NewRepo(pool), tx, pub, logger)
	numbers := sequence.NewAllocator(sequence.NewRepo(pool), loc)
	visitRepo := visit.NewRepo(pool)
	svc := services{
		visits: visit.NewService(visitRepo, queueSvc, numbers, tx, loc, logger),
		queue:  queueSvc,
		triage: triage.NewService(triage.NewRepo(pool), visitRepo, queueSvc, tx, logger),
		hub:    hub,
	}

	dir := tenant.NewCachedDirectory(tenant.NewPGDirectory(pool), 30*time.Second)
	e := newRouter(cfg, logger, dir, svc)
	e.GET("/health/db", db.HealthHandler(pool))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           telemetry.Wrap(e, "hms-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, dir tenant.Directory, svc services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.RouteNamer())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, tenant.HeaderTenantID},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	resolver := tenant.NewResolver(dir, tenant.ResolverConfig{
		DefaultTenant: cfg.DefaultTenant,
		BaseDomain:    cfg.BaseDomain,
	})
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", resolver.Middleware(), middleware.RateLimit(rateLimitCfg))

	flags := middleware.Flags{
		middleware.FeatureQueue:  cfg.Features.Queue,
		middleware.FeatureTriage: cfg.Features.Triage,
		middleware.FeatureBoard:  cfg.Features.Board,
	}

	visit.NewHandler(svc.visits).RegisterRoutes(apiV1)
	board := queue.NewHandler(svc.queue, flags).RegisterRoutes(apiV1)
	websocket.NewHandler(svc.hub, queue.ValidStage, cfg.CORSOrigins).RegisterRoutes(board)
	triage.NewHandler(svc.triage, flags).RegisterRoutes(apiV1)

	return e
}
