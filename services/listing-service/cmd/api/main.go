package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/badgerbay/marketplace/pkg/auth"
	"github.com/badgerbay/marketplace/pkg/clock"
	pkgdb "github.com/badgerbay/marketplace/pkg/database"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/api"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/database"
	"github.com/badgerbay/marketplace/services/listing-service/internal/config"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/bids"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
	"github.com/badgerbay/marketplace/services/listing-service/migrations"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Initialize Postgres Connection Pool
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

	if cfg.RunMigrations {
		if migrateErr := pkgdb.Migrate(ctx, pool, migrations.FS); migrateErr != nil {
			logger.Error("Failed to run migrations", "error", migrateErr)
			os.Exit(1)
		}
		logger.Info("Migrations applied")
	}

	// 2. Load the token verification key
	var opts []connect.HandlerOption
	if cfg.JWTPublicKeyPath != "" {
		publicKey, readErr := os.ReadFile(cfg.JWTPublicKeyPath)
		if readErr != nil {
			logger.Error("Failed to read JWT public key", "error", readErr)
			os.Exit(1)
		}
		signer, signerErr := auth.NewSignerFromPublicKey(publicKey, cfg.JWTIssuer)
		if signerErr != nil {
			logger.Error("Failed to create token verifier", "error", signerErr)
			os.Exit(1)
		}
		opts = append(opts, connect.WithInterceptors(auth.NewAuthInterceptor(signer)))
	} else {
		logger.Warn("JWT_PUBLIC_KEY_PATH is not set; every request is anonymous")
	}

	// 3. Initialize Repositories (Infrastructure Layer)
	clk := clock.NewSystem()
	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	listingRepo := database.NewPostgresListingRepository(pool, txManager, outboxRepo)
	notificationRepo := database.NewPostgresNotificationRepository(pool)

	// 4. Initialize Services (Domain Layer)
	listingService := listings.NewService(listingRepo, clk)
	bidService := bids.NewService(listingRepo, clk,
		bids.WithIncrement(cfg.BidIncrement),
		bids.WithMaxAttempts(cfg.BidMaxAttempts),
	)

	// 5. Initialize API Handler (ConnectRPC)
	handler := api.NewListingServiceHandler(listingService, bidService, notificationRepo, clk)
	path, routes := handler.Routes(opts...)

	mux := http.NewServeMux()
	mux.Handle(path, routes)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// 6. Start Server
	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting Listing Service API", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Listing Service API stopped")
}
