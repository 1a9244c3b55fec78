// Package main provides the Einstein Probe listener service.
//
// The listener polls the data center for unverified transient candidates
// and stores new (name, version) pairs for the matcher to pick up.
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

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "xmatch-listener"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "listener"))

	logger.Info("Starting listener service",
		slog.String("service", name),
		slog.String("version", version),
	)

	clientConfig := ep.LoadClientConfig()
	pollerConfig := ep.LoadPollerConfig()

	logger.Info("Loaded upstream configuration",
		slog.String("base_url", clientConfig.BaseURL),
		slog.Duration("http_timeout", clientConfig.Timeout),
		slog.Duration("poll_interval", pollerConfig.Interval),
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

	client := ep.NewClient(clientConfig, logger)
	poller := ep.NewPoller(client, pipelineStore, pollerConfig, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Poller stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Listener service stopped")
}
