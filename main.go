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

	"ms-klippekort/internal/auth"
	"ms-klippekort/internal/cache"
	"ms-klippekort/internal/config"
	"ms-klippekort/internal/database/migrations"
	"ms-klippekort/internal/kafka"
	"ms-klippekort/internal/klippekort"
	ledgerdb "ms-klippekort/internal/klippekort/db"
	"ms-klippekort/internal/klippekort/klippekort_api"
	rediswrap "ms-klippekort/internal/klippekort/redis"
	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/metrics"
	"ms-klippekort/internal/models"
	"ms-klippekort/internal/qr"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *logger.Logger) *bun.DB {
	var bunDB *bun.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		bunDB, err = ledgerdb.Open(cfg)
		if err == nil {
			err = bunDB.PingContext(ctx)
			if err == nil {
				break
			}
			bunDB.Close()
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect after %d attempts: %v", maxRetries, err))
	}

	logger.LogDatabase("CONNECT", cfg.Driver, "✅ connection successful")
	return bunDB
}

func prepareSchema(ctx context.Context, bunDB *bun.DB, cfg config.DatabaseConfig, logger *logger.Logger) {
	if cfg.Driver == "sqlite" {
		if err := ledgerdb.CreateSchema(ctx, bunDB); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Failed to create SQLite schema: %v", err))
		}
		logger.LogDatabase("CREATE_SCHEMA", "sqlite", "ledger tables ready")
		return
	}

	opts := migrations.DefaultOptions()
	opts.MigrationsDir = cfg.MigrationsDir
	runner := migrations.NewRunner(bunDB, opts, logger)
	if err := runner.RunMigrations(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to run migrations: %v", err))
	}
}

func buildViewCache(cfg config.CacheConfig, redisClient *redis.Client, logger *logger.Logger) klippekort.ViewCache {
	if cfg.Backend == "local" {
		local, err := cache.NewLocal(cfg.Size, cfg.TTL)
		if err != nil {
			logger.Fatal("CACHE", fmt.Sprintf("Failed to create local cache: %v", err))
		}
		logger.Info("CACHE", fmt.Sprintf("Using in-process card view cache (size %d, ttl %s)", cfg.Size, cfg.TTL))
		return local
	}
	logger.Info("CACHE", fmt.Sprintf("Using Redis card view cache (ttl %s)", cfg.TTL))
	return rediswrap.NewViewCache(redisClient, cfg.TTL, logger)
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.TokenVerifier {
	if cfg.DevMode {
		logger.Warn("AUTH", "AUTH_DEV_MODE enabled: bearer tokens are NOT verified")
		return auth.UnverifiedParser{}
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.IssuerURL, cfg.ClientID)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Failed to initialise OIDC verifier for %s: %v", cfg.IssuerURL, err))
	}
	logger.Info("AUTH", fmt.Sprintf("OIDC verifier ready for issuer %s", cfg.IssuerURL))
	return verifier
}

// refundHandler applies refund outcomes from the payment relay. Refunds for
// orders this ledger never issued are acknowledged and dropped.
func refundHandler(ledger *klippekort.Ledger, logger *logger.Logger) kafka.RefundHandler {
	return func(ctx context.Context, outcome models.RefundOutcome) error {
		_, err := ledger.ApplyRefund(ctx, outcome)
		if errors.Is(err, klippekort.ErrOrderNotFound) {
			logger.Warn("REFUND", fmt.Sprintf("Refund for unknown order %s ignored", outcome.OrderReference))
			return nil
		}
		return err
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ .env file not found, using environment variables")
	}

	cfg := config.Load()
	logger := logger.NewLogger(cfg.Log.Dir)
	defer logger.Close()

	logger.Info("APP", "Starting Klippekort Ledger initialization")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB := connectDatabase(ctx, cfg.Database, logger)
	defer bunDB.Close()
	prepareSchema(ctx, bunDB, cfg.Database, logger)

	redisClient, err := rediswrap.Connect(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	var events klippekort.EventPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.CardsIssued,
			cfg.Kafka.Topics.Redeemed,
			cfg.Kafka.Topics.Deactivated,
			cfg.Kafka.Topics.PaymentRefunded,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		defer producer.Close()
		events = producer
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		logger.Warn("KAFKA", "Kafka disabled, ledger events will not be published")
	}

	store := ledgerdb.New(bunDB)
	ledger := klippekort.NewLedger(
		store,
		rediswrap.NewLock(redisClient, cfg.Ledger.LockTTL),
		buildViewCache(cfg.Cache, redisClient, logger),
		events,
		logger,
		klippekort.Options{
			MaxRedeemRetries: cfg.Ledger.MaxRedeemRetries,
			EnforceExpiry:    cfg.Ledger.EnforceExpiry,
		},
	)
	ledger.Metrics = metrics.Recorder{}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewRefundConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentRefunded, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, refundHandler(ledger, logger)); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Refund consumer exited: %v", err))
			}
		}()
	}

	qrGen, err := qr.NewQRGenerator(cfg.QR.Secret, cfg.QR.Size)
	if err != nil {
		logger.Fatal("QR", fmt.Sprintf("Failed to create QR generator: %v", err))
	}
	limiter, err := klippekort_api.NewOwnerLimiter(cfg.Server.RedeemRate, cfg.Server.RedeemBurst, 10000)
	if err != nil {
		logger.Fatal("HTTP", fmt.Sprintf("Failed to create rate limiter: %v", err))
	}
	if cfg.Auth.AdminToken == "" {
		logger.Warn("AUTH", "ADMIN_TOKEN not set, admin routes are disabled")
	}

	handler := klippekort_api.NewHandler(ledger, qrGen, limiter, logger)
	router := klippekort_api.NewRouter(handler, klippekort_api.RouterDeps{
		Verifier:   buildVerifier(ctx, cfg.Auth, logger),
		AdminToken: cfg.Auth.AdminToken,
		Health: func(r *http.Request) error {
			if err := store.Ping(r.Context()); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Klippekort Ledger running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Klippekort Ledger shutdown complete")
	}
}
