// Relay Bridge - serial device to HTTP/MQTT gateway
//
// This is the main entry point for the Relay Bridge core service. It
// exposes a REST API for accounts, topics and message history, bridges
// registered topics to an MQTT broker, and drains user publishes through
// a Redis-backed queue with retry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/relaybridge/relay-core/migrations"

	"github.com/relaybridge/relay-core/internal/api"
	"github.com/relaybridge/relay-core/internal/auth"
	"github.com/relaybridge/relay-core/internal/bridge"
	"github.com/relaybridge/relay-core/internal/infrastructure/config"
	"github.com/relaybridge/relay-core/internal/infrastructure/database"
	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
	"github.com/relaybridge/relay-core/internal/infrastructure/mqtt"
	"github.com/relaybridge/relay-core/internal/infrastructure/redis"
	"github.com/relaybridge/relay-core/internal/queue"
	"github.com/relaybridge/relay-core/internal/topic"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Relay Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to Redis. Sessions live here, so a process without Redis
	// cannot authenticate anything; fail fast rather than limp.
	redisClient, err := redis.Connect(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		log.Info("closing redis connection")
		if closeErr := redisClient.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Auth service: SQLite users, Redis sessions, JWT bearer tokens
	authService := auth.NewService(
		auth.NewUserRepository(db.DB),
		auth.NewSessionStore(redisClient.Redis()),
		auth.NewTokenService(cfg.Security.JWT.Secret, cfg.TokenTTL()),
		cfg.SessionTTL(),
		log,
	)

	// Topic repository and broker bridge
	topicRepo := topic.NewRepository(db.DB)
	bridgeService := bridge.NewService(mqttClient, topicRepo, log)
	if err := bridgeService.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started")

	// Publish queue: jobs persist the message then publish with echo
	// suppression. Degrades to inline processing if Redis probing fails.
	publishQueue := queue.New(
		redisClient.Redis(),
		queue.ProcessorFunc(func(ctx context.Context, job *queue.Job) error {
			return bridgeService.SaveAndPublishWithOptions(ctx, job.TopicID, job.TopicName, job.Message, job.UserID,
				bridge.PublishOptions{QoS: job.QoS, Retain: job.Retain})
		}),
		cfg.Queue,
		cfg.BackoffBase(),
		log,
	)

	worker := queue.NewWorker(publishQueue)
	worker.Start(ctx)
	defer func() {
		log.Info("waiting for queue workers")
		worker.Wait()
	}()

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Auth:    authService,
		Topics:  topicRepo,
		Bridge:  bridgeService,
		Queue:   publishQueue,
		DB:      db,
		Redis:   redisClient,
		MQTT:    mqttClient,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting requests)
	// 2. Queue workers (finish in-flight jobs)
	// 3. MQTT (graceful offline status)
	// 4. Redis
	// 5. Database

	log.Info("Relay Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RELAYBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAYBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
