package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/badgerbay/marketplace/pkg/clock"
	pkgdb "github.com/badgerbay/marketplace/pkg/database"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/cache"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/database"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/events"
	"github.com/badgerbay/marketplace/services/listing-service/internal/config"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/closer"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.RabbitMQURL == "" {
		logger.Error("RABBITMQ_URL is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Connect to Postgres
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// 2. Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	// 3. Connect to Redis (optional live notification fan-out)
	var notifierOpts []notifications.Option
	if cfg.RedisURL != "" {
		redisOpts, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			redisOpts = &redis.Options{Addr: cfg.RedisURL}
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			logger.Warn("Redis connection failed (notifications stay in the inbox only)", "error", pingErr)
		} else {
			logger.Info("Redis Connected")
		}
		notifierOpts = append(notifierOpts, notifications.WithPublisher(cache.NewRedisNotificationPublisher(rdb)))
	}

	// 4. Wire components
	clk := clock.NewSystem()
	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	listingRepo := database.NewPostgresListingRepository(pool, txManager, outboxRepo)

	auctionCloser := closer.New(listingRepo, clk, logger,
		closer.WithInterval(cfg.SweepInterval),
		closer.WithBatchSize(cfg.SweepBatchSize),
	)

	producer, err := events.NewListingEventsProducer(pool, amqpConn, events.ProducerConfig{
		BatchSize: cfg.RelayBatchSize,
		Interval:  cfg.RelayInterval,
	}, logger)
	if err != nil {
		logger.Error("Failed to create listing events producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumer := events.NewChangeConsumer(amqpConn, events.NotifierQueue, logger)
	notifier := notifications.NewNotifier(
		database.NewPostgresNotificationRepository(pool),
		clk,
		logger,
		notifierOpts...,
	)

	// 5. Run until a component fails or a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting Auto-Closer...", "interval", cfg.SweepInterval)
		return auctionCloser.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting Outbox Relay...")
		return producer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting Change Notifier...")
		return notifier.Run(gctx, consumer)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
