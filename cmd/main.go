/**
 * @description
 * This is the main entry point for the payout-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the provider registry, message brokers, repositories, the
 * orchestration engine, the cron scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/provider, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/trm/payout-service/internal/api"
	"github.com/trm/payout-service/internal/app"
	"github.com/trm/payout-service/internal/config"
	"github.com/trm/payout-service/internal/provider"
	"github.com/trm/payout-service/internal/store"
	rmrabbit "github.com/trm/payout-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"webhook secret not configured; webhook signatures will not be verified\" env=WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish notification and audit events.
	var events rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		events = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		events = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs webhook delivery dedupe. The service degrades without it;
	// webhook handling stays idempotent at the database layer.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Build the provider registry from the active configurations.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	providerConfigs, err := repository.FindActiveProviderConfigs(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider config load failed\" err=%v", err)
	}
	registry, err := provider.NewRegistry(providerConfigs)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider registry init failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"provider registry ready\" providers=%d", len(registry.Codes()))

	// Initialize the orchestration engine with its dependencies.
	engine := app.NewEngine(repository, registry, events, app.Options{
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      time.Duration(cfg.RetryBackoffMinutes) * time.Minute,
		StuckAfter:        time.Duration(cfg.StuckAfterMinutes) * time.Minute,
		DefaultChunkSize:  cfg.BatchChunkSize,
		RetrySweepLimit:   cfg.RetrySweepLimit,
		NarrationTemplate: cfg.NarrationTemplate,
		DefaultFeePercent: cfg.DefaultFeePercent,
	})

	var dedupe *app.WebhookDeduper
	if redisClient != nil {
		dedupe = app.NewWebhookDeduper(redisClient, time.Duration(cfg.WebhookDedupeTTLMin)*time.Minute)
	}

	// Initialize the API handlers.
	payoutHandlers := api.NewPayoutHandlers(engine, dedupe, cfg.WebhookSecret, time.Duration(cfg.WebhookToleranceSec)*time.Second)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PayoutRoutes(payoutHandlers, cfg.ClerkJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire the provider status relay: gateways that receive provider callbacks
	// fan them out over the bus; they land in the same handler as HTTP webhooks.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; provider status relay disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		statusBindings := map[string]func([]byte) bool{
			app.RoutingKeyProviderStatusMomo: engine.ProviderStatusHandler(""),
			app.RoutingKeyProviderStatusBank: engine.ProviderStatusHandler(""),
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.PayoutEventsExchange, cfg.ProviderStatusQueue, statusBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"provider status consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"provider status consumer started\"")
	}

	// Start the recurring jobs.
	scheduler := app.NewScheduler(engine, app.SchedulerConfig{
		RetrySweepSchedule:     cfg.RetrySweepSchedule,
		ScheduledBatchSchedule: cfg.ScheduledBatchCron,
		StuckAlertSchedule:     cfg.StuckAlertSchedule,
		BatchMinAmount:         cfg.BatchMinAmount,
		BatchParallel:          cfg.BatchParallel,
		BatchChunkSize:         cfg.BatchChunkSize,
	})
	scheduler.Start()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
