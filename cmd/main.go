/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * in-memory ledger store with its seed fixtures, optional message broker and
 * Redis connections, the core application service, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
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

	"github.com/freerider/ledger-service/internal/api"
	"github.com/freerider/ledger-service/internal/app"
	"github.com/freerider/ledger-service/internal/config"
	"github.com/freerider/ledger-service/internal/store"
	rmrabbit "github.com/freerider/ledger-service/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Initialize the RabbitMQ producer to publish ledger events. The broker is
	// optional: without it the service falls back to a no-op producer.
	var producer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=info component=bootstrap msg=\"rabbitmq url missing; event publishing disabled\" env=RABBITMQ_URL")
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		rabbitProducer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if prodErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
			producer = &rmrabbit.EventProducerFallback{}
		} else {
			defer rabbitProducer.Close()
			producer = rabbitProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Connect to Redis when rate limiting is enabled. A missing or unreachable
	// Redis disables rate limiting instead of blocking startup.
	var redisClient *redis.Client
	rateLimitingEnabled := cfg.TransferRateLimitPerMinute > 0 || cfg.BalanceRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the in-memory ledger seeded with the demo bank accounts.
	repository := store.NewMemoryStore(app.DefaultSeedAccounts()...)

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(repository, producer)
	ledgerService.ConfigureSimulatedLatency(
		time.Duration(cfg.TransferDelayMillis)*time.Millisecond,
		time.Duration(cfg.LookupDelayMillis)*time.Millisecond,
		time.Duration(cfg.ProviderDelayMillis)*time.Millisecond,
	)
	ledgerService.ConfigureDefaultVirtualAccountTTL(time.Duration(cfg.VirtualAccountTTLMinutes) * time.Minute)
	ledgerService.ConfigurePINLockout(cfg.PINMaxAttempts, cfg.PINLockoutSeconds)

	// Background reaper that removes virtual accounts past their deadline.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	ledgerService.StartExpirySweeper(sweepCtx, time.Duration(cfg.VirtualAccountSweepSeconds)*time.Second)

	// Initialize the API handlers.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService)
	if redisClient != nil {
		ledgerHandlers.SetRateLimiter(
			app.NewRedisMethodRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.TransferRateLimitPerMinute,
			cfg.BalanceRateLimitPerMinute,
		)
	}

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.LedgerRoutes(ledgerHandlers, cfg.AuthJWKSURL))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

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

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
