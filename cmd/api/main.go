package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/batch-engine/internal/bootstrap"
	"github.com/kursadbilgin/batch-engine/internal/config"
	"github.com/kursadbilgin/batch-engine/internal/events"
	"github.com/kursadbilgin/batch-engine/internal/handler"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/batch-engine/internal/infra/redis"
	"github.com/kursadbilgin/batch-engine/internal/ingest"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"github.com/kursadbilgin/batch-engine/internal/transport"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 15 * time.Second
	// multipartOverhead leaves room for form boundaries around the file part.
	multipartOverhead = 64 * 1024
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := bootstrap.OpenDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close() //nolint:errcheck
	publisher := queue.NewRabbitMQPublisher(broker)

	sink, err := bootstrap.NewEventSink(cfg, rdb)
	if err != nil {
		logger.Fatal("event sink initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	progress := events.NewPublisher(sink, logger)
	progress.SetMetrics(metrics)

	batches := repository.NewGormBatchRepo(db)
	items := repository.NewGormItemRepo(db)

	aggregator, err := service.NewBatchAggregator(batches, items, progress, logger)
	if err != nil {
		logger.Fatal("batch aggregator initialization failed", zap.Error(err))
	}

	dispatch, err := service.NewDispatchService(
		batches,
		items,
		repository.NewGormTransactor(db),
		ingest.New(cfg.MaxRows, logger),
		publisher,
		aggregator,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	dispatch.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "batch-engine-api",
		BodyLimit:    cfg.MaxUploadBytes + multipartOverhead,
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterBatchRoutes(app, dispatch, handler.HeaderAuthenticator{}, int64(cfg.MaxUploadBytes)); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("batch-engine api started", zap.Int("port", cfg.APIPort))
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("batch-engine api stopped")
}
