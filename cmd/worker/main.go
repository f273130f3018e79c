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
	"github.com/kursadbilgin/beachcheck-push/internal/config"
	"github.com/kursadbilgin/beachcheck-push/internal/handler"
	"github.com/kursadbilgin/beachcheck-push/internal/infra/postgresql"
	"github.com/kursadbilgin/beachcheck-push/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/beachcheck-push/internal/infra/redis"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/queue"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"github.com/kursadbilgin/beachcheck-push/internal/scheduler"
	"github.com/kursadbilgin/beachcheck-push/internal/service"
	"github.com/kursadbilgin/beachcheck-push/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 10 * time.Second
	statsRefreshEvery   = 15 * time.Second
	outboxPollerLockKey = "beachcheck:push:outbox-poller"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("push worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("push worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.DispatchConcurrency, logger)

	gateway, err := newGateway(ctx, cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("push gateway initialization failed: %w", err)
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSecond)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	notifications := repository.NewGormNotificationRepo(db)
	events := repository.NewGormOutboxEventRepo(db)
	transactor := repository.NewGormTransactor(db)

	statusWriter, err := service.NewStatusWriter(notifications, transactor, logger)
	if err != nil {
		return err
	}

	outboxPublisher, err := service.NewOutboxPublisher(
		events,
		notifications,
		transactor,
		statusWriter,
		gateway,
		service.OutboxPublisherConfig{
			BatchSize: cfg.OutboxBatchSize,
			Retry: service.RetryPolicy{
				MaxAttempts: cfg.OutboxMaxAttempts,
				BaseDelay:   cfg.OutboxRetryBase(),
				MaxDelay:    cfg.OutboxRetryMax(),
			},
		},
		logger,
	)
	if err != nil {
		return err
	}
	outboxPublisher.SetMetrics(metrics)
	outboxPublisher.SetRateLimiter(limiter)

	dispatcher, err := service.NewNotificationDispatcher(notifications, statusWriter, gateway, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetRateLimiter(limiter)

	dispatchWorker, err := service.NewDispatchWorker(consumer, dispatcher, cfg.DispatchConcurrency, logger)
	if err != nil {
		return err
	}

	notificationService, err := service.NewNotificationService(
		notifications,
		events,
		transactor,
		publisher,
		cfg.DirectDispatchGrace(),
		logger,
	)
	if err != nil {
		return err
	}
	notificationService.SetMetrics(metrics)

	statsRunner, err := scheduler.NewRunner("outbox-stats", statsRefreshEvery, func(ctx context.Context) error {
		_, err := notificationService.Stats(ctx)
		return err
	}, scheduler.WithLogger(logger))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	handler.NewOpsHandler(notificationService).RegisterRoutes(app)

	g, groupCtx := errgroup.WithContext(ctx)

	if cfg.OutboxPollingEnabled {
		lock, err := infraredis.NewPollerLock(rdb, outboxPollerLockKey, cfg.OutboxLockTTL())
		if err != nil {
			return fmt.Errorf("poller lock initialization failed: %w", err)
		}
		poller, err := scheduler.NewRunner("outbox-publisher", cfg.OutboxPollInterval(),
			outboxPublisher.ProcessPendingOutboxEvents,
			scheduler.WithLock(lock),
			scheduler.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return poller.Start(groupCtx) })
	} else {
		logger.Warn("outbox polling disabled, undelivered events wait until it is enabled")
	}

	g.Go(func() error { return statsRunner.Start(groupCtx) })
	g.Go(func() error { return dispatchWorker.Start(groupCtx) })
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("ops server listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("push worker started",
		zap.String("gateway", cfg.PushGateway),
		zap.Bool("firebaseEnabled", cfg.FirebaseEnabled),
		zap.Bool("outboxPolling", cfg.OutboxPollingEnabled),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newGateway(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (provider.Gateway, error) {
	if !cfg.FirebaseEnabled {
		logger.Warn("push delivery disabled, using dry-run gateway")
		return provider.NewDryRunGateway(logger), nil
	}

	var (
		next provider.Gateway
		err  error
	)
	switch cfg.PushGateway {
	case config.GatewayWebhook:
		next, err = provider.NewWebhookGateway(cfg.WebhookURL)
	default:
		next, err = provider.NewFCMGateway(ctx, cfg.FirebaseCredentialsFile)
	}
	if err != nil {
		return nil, err
	}

	breakerName := cfg.PushGateway + "-gateway"
	metrics.SetCircuitState(breakerName, "closed")

	return provider.NewBreakerGateway(provider.WithTimeout(next, cfg.GatewayTimeout()), provider.BreakerConfig{
		Name:                breakerName,
		ConsecutiveFailures: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:         cfg.BreakerOpenTimeout(),
		OnStateChange: func(name, from, to string) {
			metrics.SetCircuitState(name, to)
			logger.Warn("push gateway circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
		},
	})
}
