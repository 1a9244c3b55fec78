// Package main provides the cross-match worker service.
//
// The worker picks up pending events, runs cone searches against the
// remote ZTF alert catalog, and stores the filtered matches. When Kafka
// brokers are configured it also announces each stored match.
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

	"github.com/Theodlz/ep-ztf-xmatch/internal/catalog"
	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
	"github.com/Theodlz/ep-ztf-xmatch/internal/stream"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "xmatch-worker"
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
	})).With(slog.String("component", "xmatch"))

	logger.Info("Starting cross-match worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	catalogConfig := catalog.LoadClientConfig()
	serviceConfig := matcher.LoadServiceConfig()

	logger.Info("Loaded catalog configuration",
		slog.String("base_url", catalogConfig.BaseURL),
		slog.Duration("http_timeout", catalogConfig.Timeout),
		slog.Int("max_concurrent", catalogConfig.MaxConcurrent),
		slog.Duration("match_interval", serviceConfig.Interval),
		slog.Float64("delta_t", serviceConfig.Search.DeltaT),
		slog.Float64("delta_t_archival", serviceConfig.Search.DeltaTArchival),
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

	searcher := catalog.NewClient(catalogConfig, logger)

	// A nil *Publisher means no brokers were configured; leave the
	// announcer interface nil in that case rather than wrapping it.
	var announcer matcher.Announcer

	streamConfig := stream.LoadConfig()
	if publisher := stream.NewPublisher(streamConfig); publisher != nil {
		announcer = publisher

		defer func() {
			_ = publisher.Close()
		}()

		logger.Info("Match announcements enabled",
			slog.Any("brokers", streamConfig.Brokers),
			slog.String("topic", streamConfig.Topic),
		)
	} else {
		logger.Warn("Match announcements disabled",
			slog.String("note", "Set KAFKA_BROKERS to publish stored matches"),
		)
	}

	service := matcher.NewService(pipelineStore, searcher, announcer, serviceConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Matcher stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Cross-match worker stopped")
}
