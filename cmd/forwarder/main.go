// Package main provides the SkyPortal forwarder service.
//
// The forwarder ships unshipped prompt matches to the broker as
// candidates with their alert photometry and a summary annotation.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/forwarder"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "xmatch-forwarder"
)

// bootstrapTimeout bounds the startup filter and group checks.
const bootstrapTimeout = 30 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "forwarder"))

	logger.Info("Starting forwarder service",
		slog.String("service", name),
		slog.String("version", version),
	)

	brokerConfig := forwarder.LoadSkyPortalConfig()
	if err := brokerConfig.Validate(); err != nil {
		logger.Error("Invalid broker configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	serviceConfig := forwarder.LoadServiceConfig()

	logger.Info("Loaded broker configuration",
		slog.String("host", brokerConfig.Host),
		slog.Int64("filter_id", brokerConfig.FilterID),
		slog.Int64("import_group_id", brokerConfig.ImportGroupID),
		slog.Duration("forward_interval", serviceConfig.Interval),
		slog.Duration("forward_pause", serviceConfig.Pause),
		slog.Float64("max_event_age_days", serviceConfig.MaxEventAgeDays),
	)

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	pipelineStore, err := storage.NewPipelineStore(dbConn)
	if err != nil {
		logger.Error("Failed to connect to pipeline store", slog.String("error", err.Error()))
		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Pipeline store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	broker := forwarder.NewSkyPortal(brokerConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	if err := broker.Bootstrap(bootstrapCtx); err != nil {
		cancel()
		logger.Error("Broker bootstrap failed", slog.String("error", err.Error()))
		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		os.Exit(1)
	}

	cancel()

	service := forwarder.NewService(pipelineStore, broker, serviceConfig)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Forwarder stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Forwarder service stopped")
}
