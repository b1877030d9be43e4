/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration, opens the
 * ledger store, connects the optional collaborators (Redis rate limiter, RabbitMQ
 * notification publisher), wires the settlement service, the scheduled jobs and the HTTP
 * server, and shuts everything down gracefully on SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: loads a local .env into the process environment.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: rate limiter backend.
 * - internal/api, internal/app, internal/config, internal/logger, internal/store.
 * - pkg/rabbitmq: event publisher.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/neelvaidya133/bankify/internal/api"
	"github.com/neelvaidya133/bankify/internal/app"
	"github.com/neelvaidya133/bankify/internal/config"
	"github.com/neelvaidya133/bankify/internal/logger"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/neelvaidya133/bankify/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	boot := logger.Component(log, "bootstrap")
	boot.Info().Str("port", cfg.ServerPort).Str("store", cfg.StoreDriver).Msg("starting ledger-service")

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		boot.Fatal().Str("env", "JWT_SECRET").Msg("jwt secret must be configured")
	}

	repository, closeStore := openStore(cfg, boot)
	defer closeStore()

	var limiter app.RateLimiter
	if redisClient := connectRedis(cfg, boot); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger.Component(log, "rabbitmq")}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		boot.Warn().Str("env", "RABBITMQ_URL").Msg("rabbitmq url missing; transfer notifications disabled")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, log); err != nil {
		boot.Warn().Err(err).Msg("rabbitmq producer unavailable; using fallback")
	} else {
		publisher = producer
		boot.Info().Msg("rabbitmq producer connected")
	}
	defer publisher.Close()

	settings := app.Settings{
		MaxRetries:                 cfg.SettlementMaxRetries,
		EMIAnnualRate:              cfg.EMIAnnualRate(),
		NotificationTimeout:        time.Duration(cfg.NotificationTimeoutSeconds) * time.Second,
		TempCardTTL:                time.Duration(cfg.TempCardTTLHours) * time.Hour,
		MaxDeposit:                 money.FromMinor(cfg.MaxDepositCents),
		MaxBalance:                 money.FromMinor(cfg.MaxBalanceCents),
		PurchaseRateLimitPerMinute: cfg.PurchaseRateLimitPerMinute,
	}
	notifier := app.NewRabbitTransferNotifier(publisher, cfg.NotificationExchange)
	ledgerService := app.NewService(repository, notifier, limiter, log, settings, nil)

	jobs := app.NewJobs(ledgerService, log, nil, 10*time.Minute)
	scheduler := app.NewScheduler(jobs, log, app.Schedules{
		StatementGeneration: cfg.StatementGenerationSchedule,
		EMICollection:       cfg.EMICollectionSchedule,
	})
	scheduler.Start()

	handlers := api.NewHandlers(ledgerService, log)
	router := api.NewRouter(handlers, api.AuthConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, cfg.CORSAllowedOrigins)

	httpLog := logger.Component(log, "http")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		httpLog.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info().Msg("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		httpLog.Error().Err(err).Msg("shutdown failed")
	}
	<-scheduler.Stop().Done()
	ledgerService.Wait()

	httpLog.Info().Msg("shutdown complete")
}

// openStore returns the configured repository and a function releasing it.
func openStore(cfg config.Config, boot zerolog.Logger) (store.Repository, func()) {
	if cfg.StoreDriver == "memory" {
		repo := store.NewMemoryRepository()
		seedDemoData(repo, time.Now().UTC())
		boot.Warn().Msg("using in-memory store with demo data; nothing is persisted")
		return repo, func() {}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		boot.Fatal().Err(err).Msg("database url parse failed")
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		boot.Fatal().Err(err).Msg("database connection failed")
	}
	boot.Info().Msg("database connected")

	repo := store.NewPostgresRepository(dbpool)
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.ApplySchema(schemaCtx); err != nil {
		dbpool.Close()
		boot.Fatal().Err(err).Msg("schema migration failed")
	}
	return repo, dbpool.Close
}

// connectRedis returns a client when REDIS_URL is set and reachable, nil otherwise.
func connectRedis(cfg config.Config, boot zerolog.Logger) *redis.Client {
	if cfg.PurchaseRateLimitPerMinute <= 0 {
		boot.Info().Msg("temporary card rate limiting disabled")
		return nil
	}
	if cfg.RedisURL == "" {
		boot.Warn().Str("env", "REDIS_URL").Msg("redis url missing; temporary card rate limiting disabled")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		boot.Warn().Err(err).Msg("redis url parse failed; temporary card rate limiting disabled")
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		boot.Warn().Err(err).Msg("redis ping failed; temporary card rate limiting disabled")
		client.Close()
		return nil
	}
	boot.Info().Msg("redis connected")
	return client
}
