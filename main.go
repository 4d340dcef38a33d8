package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"focusflow-api/activity"
	"focusflow-api/api"
	"focusflow-api/config"
	"focusflow-api/domain"
	"focusflow-api/logging"
	"focusflow-api/storage"
)

const serviceName = "focusflow-api"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, logCloser := logging.New(logging.Options{Debug: cfg.Debug, Format: cfg.LogFormat, File: cfg.LogFile})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	base, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	breaker := storage.NewBreaker(base, storage.BreakerSettings{
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}, logger)

	var (
		store domain.Store = breaker
		rc    *redis.Client
	)
	if cfg.RedisConnectionString != "" {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		store = storage.NewCache(breaker, rc, cfg.CacheTTL, logger)
		logger.WithField("ttl", cfg.CacheTTL).Info("read cache enabled")
	}

	var sink activity.Sink = activity.LogSink{Log: logger}
	if cfg.ActivityQueue != "" {
		q, err := storage.NewActivityQueue(cfg.StorageConnectionString, cfg.ActivityQueue, cfg.ActivityQueueTTL)
		if err != nil {
			logger.Fatalf("activity queue: %v", err)
		}
		sink = q
	}
	dispatcher := activity.NewDispatcher(sink, activity.Options{
		Workers:        cfg.ActivityWorkers,
		Buffer:         cfg.ActivityBuffer,
		DeliverTimeout: cfg.ActivityTimeout,
		HandoffTimeout: cfg.ActivityHandoffTimeout,
	}, logger)

	svc := api.Services{
		Projects: domain.NewProjectService(store, dispatcher, logger),
		Tasks:    domain.NewTaskService(store, dispatcher, logger, cfg.MaxTasksPerRequest),
		Health:   healthCheck(breaker, rc),
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddleware("focusflow"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, svc, logger)

	listenAddr := ":" + cfg.ListenPort
	go func() {
		logger.WithFields(log.Fields{"addr": listenAddr, "backend": cfg.StorageBackend}).Info("focusflow api listening")
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("activity dispatcher did not drain")
	}
	if rc != nil {
		_ = rc.Close()
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.WithError(err).Warn("storage close")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown")
	}
}

// openStore builds the configured backend and returns its close function.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (domain.Store, func(context.Context) error, error) {
	noClose := func(context.Context) error { return nil }

	if cfg.ProvisionStorage && cfg.StorageConnectionString != "" {
		if err := storage.Provision(ctx, cfg.StorageConnectionString, cfg.TablePrefix, cfg.ActivityQueue, logger); err != nil {
			return nil, nil, fmt.Errorf("provision: %w", err)
		}
	}

	switch cfg.StorageBackend {
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		m, err := storage.NewMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureIndexes(connectCtx); err != nil {
			_ = m.Close(context.Background())
			return nil, nil, err
		}
		logger.WithField("database", cfg.MongoDatabase).Info("using mongo storage")
		return m, m.Close, nil
	case config.BackendTables:
		t, err := storage.NewTables(cfg.StorageConnectionString, cfg.TablePrefix)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("prefix", cfg.TablePrefix).Info("using table storage")
		return t, noClose, nil
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemory(), noClose, nil
	}
}

func healthCheck(b *storage.Breaker, rc *redis.Client) api.HealthCheck {
	return func(ctx context.Context) error {
		if state := b.State(); state == "open" {
			return fmt.Errorf("storage circuit is %s", state)
		}
		if rc != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := rc.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
