package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/config"
	"github.com/fluxbase-eu/tableengine/internal/database"
	"github.com/fluxbase-eu/tableengine/internal/observability"
	"github.com/fluxbase-eu/tableengine/internal/pubsub"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engine"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/ot"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	showVersion    = flag.Bool("version", false, "Show version information")
	validateConfig = flag.Bool("validate", false, "Validate configuration and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tableengine %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Str("commit", Commit).Msg("Starting Table Engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	printConfigSummary(cfg)

	if *validateConfig {
		log.Info().Msg("Testing database connection...")
		db, err := connectDatabaseWithRetry(cfg.Database, 1)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection test failed")
		}
		db.Close()
		log.Info().Msg("Configuration validation successful")
		os.Exit(0)
	}

	db, err := connectDatabaseWithRetry(cfg.Database, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database after multiple attempts")
	}
	defer db.Close()

	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	db.Pool().Reset()

	metrics := observability.NewMetrics()
	db.SetMetrics(metrics)

	tracer, err := observability.NewTracer(context.Background(), observability.TracerConfig(cfg.Tracing))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	ps, err := pubsub.NewPubSub(&cfg.Realtime, db.Pool())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pub/sub backend")
	}
	defer func() {
		if err := ps.Close(); err != nil {
			log.Warn().Err(err).Msg("Pub/sub shutdown failed")
		}
	}()

	eng, err := engine.New(cfg, db, ps, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire engine")
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed to start or stopped with error")
			}
		}()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.Health(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	transport := ot.NewTransport(eng.OT)
	app.Get("/ot/ws", transport.HandleWebSocket)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if n := eng.SweepCache(); n > 0 {
			log.Debug().Int("entries_removed", n).Msg("Swept expired DependencyGraph cache entries")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule DependencyGraph cache sweep")
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting Table Engine OT server")
		if err := app.Listen(cfg.Server.Address); err != nil {
			log.Error().Err(err).Msg("Server failed to start or stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	log.Info().Msg("Server exited")
}

// connectDatabaseWithRetry attempts to connect to the database with
// exponential backoff.
func connectDatabaseWithRetry(cfg config.DatabaseConfig, maxAttempts int) (*database.Connection, error) {
	var db *database.Connection
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Info().Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Str("host", cfg.Host).Int("port", cfg.Port).Msg("Attempting to connect to database...")

		db, err = database.NewConnection(cfg)
		if err == nil {
			log.Info().Msg("Successfully connected to database")
			return db, nil
		}

		if attempt >= maxAttempts {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("Database connection failed, retrying...")
		time.Sleep(backoff)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func printConfigSummary(cfg *config.Config) {
	log.Info().Msg("Configuration Summary:")
	log.Info().Str("address", cfg.Server.Address).Msg("  Server Address")
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Str("ssl_mode", cfg.Database.SSLMode).
		Msg("  Database")
	log.Info().
		Str("backend", cfg.Realtime.Backend).
		Int("max_connections", cfg.Realtime.MaxConnections).
		Msg("  Realtime")
	log.Info().
		Str("backend", cfg.DepGraph.Backend).
		Dur("ttl", cfg.DepGraph.TTL).
		Msg("  DependencyGraph cache")
	log.Info().Bool("enabled", cfg.Tracing.Enabled).Msg("  Tracing")
	log.Info().Bool("enabled", cfg.Metrics.Enabled).Int("port", cfg.Metrics.Port).Msg("  Metrics")
}
