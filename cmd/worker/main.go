package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/batch-engine/internal/bootstrap"
	"github.com/kursadbilgin/batch-engine/internal/config"
	"github.com/kursadbilgin/batch-engine/internal/events"
	"github.com/kursadbilgin/batch-engine/internal/handler"
	infraredis "github.com/kursadbilgin/batch-engine/internal/infra/redis"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"github.com/kursadbilgin/batch-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

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

	limiter, err := bootstrap.NewRateLimiter(cfg, rdb)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	provider, err := bootstrap.NewDeliveryProvider(cfg)
	if err != nil {
		logger.Fatal("delivery provider initialization failed", zap.Error(err))
	}

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

	processor, err := service.NewItemProcessor(
		items,
		batches,
		repository.NewGormAttemptRepo(db),
		repository.NewGormTransactor(db),
		provider,
		limiter,
		aggregator,
		progress,
		service.ProcessorOptions{
			Lane:            cfg.DeliveryProvider,
			DeliveryTimeout: cfg.DeliveryTimeout(),
			MaxRetries:      cfg.DeliveryRetries,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("item processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerPrefetch, logger)
	workers, err := service.NewWorkerService(consumer, processor, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	scanner, err := service.NewRecoveryScanner(
		items,
		batches,
		queue.NewRabbitMQPublisher(broker),
		processor,
		aggregator,
		service.RecoveryOptions{
			Interval:          cfg.RecoveryInterval(),
			PendingAfter:      cfg.PendingRequeueAfter(),
			ProcessingTimeout: cfg.ProcessingTimeout(),
		},
		logger,
	)
	if err != nil {
		logger.Fatal("recovery scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		AppName:               "batch-engine-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(ops, sqlDB, rdb, broker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return workers.Start(groupCtx)
	})
	group.Go(func() error {
		return scanner.Start(groupCtx)
	})
	group.Go(func() error {
		return ops.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return ops.ShutdownWithTimeout(metricsShutdownTimeout)
	})

	logger.Info("batch-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("provider", cfg.DeliveryProvider),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	logger.Info("batch-engine worker stopped")
}
