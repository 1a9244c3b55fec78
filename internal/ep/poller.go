package ep

import (
	"context"
	"log/slog"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

// PollerConfig holds the ingester loop settings.
type PollerConfig struct {
	// Interval is the pause between upstream polls.
	Interval time.Duration
}

// LoadPollerConfig reads the poll interval from the environment.
func LoadPollerConfig() *PollerConfig {
	return &PollerConfig{
		Interval: config.GetEnvDuration("EP_POLL_INTERVAL", 5*time.Minute),
	}
}

// Poller is the ingester worker: every cycle it acquires a fresh token,
// fetches the unverified candidates, validates them and inserts the batch
// with the skip policy.
//
// Cycles are independent. A failed cycle is logged and abandoned; the poller
// never back-fills missed cycles.
type Poller struct {
	client *Client
	store  Store
	cfg    *PollerConfig
	logger *slog.Logger
}

// NewPoller creates the ingester worker.
func NewPoller(client *Client, store Store, cfg *PollerConfig, logger *slog.Logger) *Poller {
	return &Poller{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Run polls upstream until the context is cancelled. The first cycle runs
// immediately.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.Interval):
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	start := time.Now()

	token, err := p.client.FetchToken(ctx)
	if err != nil {
		p.logger.Error("token acquisition failed", slog.String("error", err.Error()))

		return
	}

	events, err := p.client.FetchCandidates(ctx, token)
	if err != nil {
		p.logger.Error("candidate fetch failed", slog.String("error", err.Error()))

		return
	}

	if len(events) == 0 {
		p.logger.Debug("no candidates upstream", slog.Duration("elapsed", time.Since(start)))

		return
	}

	result, err := p.store.InsertEvents(ctx, events, DuplicateSkip)
	if err != nil {
		p.logger.Error("event insert failed",
			slog.Int("batch_size", len(events)),
			slog.String("error", err.Error()),
		)

		return
	}

	p.logger.Info("ingest cycle complete",
		slog.Int("fetched", len(events)),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
}
