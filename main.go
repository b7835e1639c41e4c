package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sogeor/flow/api"
	"github.com/sogeor/flow/config"
	"github.com/sogeor/flow/domain"
	"github.com/sogeor/flow/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	tp, err := newTracerProvider(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if cfg.OtelEndpoint == "" {
		logger.Info("no OTEL_ENDPOINT configured; spans are not exported")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	var (
		store   domain.Store
		intents domain.IntentLog = domain.NopIntentLog{}
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		store = storage.NewMemory()
	default:
		tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.AccountsTable, cfg.BoardsTable, cfg.WorkflowsTable)
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}
		store = tables.WithLogger(logger)
		queue, err := storage.NewQueueIntentLog(cfg.StorageConnectionString, cfg.CascadeQueue, cfg.CascadeResumeAfter)
		if err != nil {
			logger.Fatalf("cascade queue: %v", err)
		}
		intents = queue
	}

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		rc = storage.NewRedisClient(cfg.RedisConnectionString)
		defer rc.Close()
		if cfg.CacheTTL > 0 {
			store = storage.NewCache(store, rc, cfg.CacheTTL)
		}
	} else {
		logger.Info("no redis configured; caching and rate limiting disabled")
	}

	deps := api.Deps{
		Accounts:  domain.NewAccountService(store, cfg.BcryptCost),
		Boards:    domain.NewBoardService(store, store),
		Workflows: domain.NewWorkflowService(store, store),
		Cascade: domain.NewOrchestrator(store,
			domain.WithIntentLog(intents),
			domain.WithTracerProvider(tp),
			domain.WithLogger(logger),
		),
		Sessions: api.NewSessions(api.SessionConfig{
			Secret:       cfg.JWTSecret,
			TokenTTL:     cfg.TokenTTL,
			CookieTTL:    cfg.CookieTTL,
			CookieSecure: cfg.CookieSecure,
		}),
		Log: logger,
	}

	e := echo.New()
	e.HideBanner = true
	api.Setup(e, logger)
	e.Use(api.RequestMetrics(logger, tp))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit("1M"))
	if rc != nil {
		e.Use(api.NewRateLimiter(rc, cfg.RateLimit, cfg.RateWindow, logger).Middleware())
	}
	api.Register(e, deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr(), "env": cfg.Environment, "store": cfg.StoreBackend}).Info("server starting")
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.Production() {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
