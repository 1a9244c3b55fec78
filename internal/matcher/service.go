package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/astro"
	"github.com/Theodlz/ep-ztf-xmatch/internal/catalog"
	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

// eventBatchLimit caps how many events one cycle picks up.
const eventBatchLimit = 500

// Searcher submits cone searches to the alert catalog. Results and
// failures are keyed by event ID; names are not unique across versions.
type Searcher interface {
	ConeSearches(ctx context.Context, queries []catalog.ConeSearchQuery) (map[int64][]catalog.Alert, map[int64]error)
}

// Announcer publishes freshly stored matches. Implementations must be
// best effort; the service logs and continues on publish errors.
type Announcer interface {
	Announce(ctx context.Context, eventName string, xm *Xmatch) error
}

// ServiceConfig holds matcher cycle settings.
type ServiceConfig struct {
	// Interval is the pause between matching cycles.
	Interval time.Duration

	// Search holds the time-window and radius parameters.
	Search catalog.SearchParams
}

// LoadServiceConfig reads matcher settings from the environment.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Interval: config.GetEnvDuration("MATCH_INTERVAL", time.Minute),
		Search:   catalog.LoadSearchParams(),
	}
}

// Service drives the matching cycle: pick up eligible events, run the
// archival and prompt cone searches, filter, derive, and store matches.
type Service struct {
	store     Store
	searcher  Searcher
	announcer Announcer
	cfg       ServiceConfig
	logger    *slog.Logger
}

// NewService creates a matcher service. announcer may be nil.
func NewService(store Store, searcher Searcher, announcer Announcer, cfg ServiceConfig) *Service {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "matcher"))

	return &Service{
		store:     store,
		searcher:  searcher,
		announcer: announcer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes matching cycles until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "matcher started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Float64("delta_t", s.cfg.Search.DeltaT),
		slog.Float64("delta_t_archival", s.cfg.Search.DeltaTArchival))

	for {
		if err := s.Cycle(ctx); err != nil {
			s.logger.ErrorContext(ctx, "matching cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "matcher stopping")

			return ctx.Err()
		case <-time.After(s.cfg.Interval):
		}
	}
}

// Cycle runs one matching pass over all eligible events.
func (s *Service) Cycle(ctx context.Context) error {
	start := time.Now()

	events, err := s.eligibleEvents(ctx)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "matching cycle started", slog.Int("events", len(events)))

	// Events without a usable error circle match nothing.
	var workable []ep.Event

	for i := range events {
		event := events[i]
		if event.PosErr <= 0 {
			if err := s.store.UpdateEventStatus(ctx, event.ID, ep.StatusDone); err != nil {
				s.logger.ErrorContext(ctx, "failed to finish zero-radius event",
					slog.String("event", event.Name), slog.String("error", err.Error()))
			}

			continue
		}

		workable = append(workable, event)
	}

	claimed := s.claim(ctx, workable)

	// The archival pass covers the pre-trigger window and runs only for
	// first-time and reprocess events. An event whose archival search
	// fails sits out the prompt pass this cycle.
	promptReady := s.archivalPass(ctx, claimed)
	s.promptPass(ctx, promptReady)

	s.logger.InfoContext(ctx, "matching cycle finished",
		slog.Int("events", len(claimed)),
		slog.Duration("elapsed", time.Since(start)))

	return nil
}

// eligibleEvents returns pending events plus those flagged or eligible
// for reprocessing.
func (s *Service) eligibleEvents(ctx context.Context) ([]ep.Event, error) {
	pendingStatus := ep.StatusPending

	pending, _, err := s.store.FetchEvents(ctx,
		&EventFilter{Status: &pendingStatus},
		&Pagination{Limit: eventBatchLimit})
	if err != nil {
		return nil, fmt.Errorf("fetching pending events: %w", err)
	}

	redo, _, err := s.store.FetchEvents(ctx,
		&EventFilter{CanReprocess: true},
		&Pagination{Limit: eventBatchLimit})
	if err != nil {
		return nil, fmt.Errorf("fetching reprocessable events: %w", err)
	}

	seen := make(map[int64]struct{}, len(pending)+len(redo))
	events := make([]ep.Event, 0, len(pending)+len(redo))

	for _, e := range append(pending, redo...) {
		if _, ok := seen[e.ID]; ok {
			continue
		}

		seen[e.ID] = struct{}{}
		events = append(events, e)
	}

	return events, nil
}

// claim moves events to processing, remembering the status they held so
// the pass logic knows which ones need the archival window. Reprocess
// events also shed their previous matches here.
func (s *Service) claim(ctx context.Context, events []ep.Event) []claimedEvent {
	claimed := make([]claimedEvent, 0, len(events))

	for i := range events {
		event := events[i]
		wasStatus := event.QueryStatus

		if wasStatus == ep.StatusReprocess {
			if _, err := s.store.DeleteXmatchesForEvent(ctx, event.ID, false); err != nil {
				s.logger.ErrorContext(ctx, "failed to clear matches before reprocess",
					slog.String("event", event.Name), slog.String("error", err.Error()))

				continue
			}
		}

		if err := s.store.UpdateEventStatus(ctx, event.ID, ep.StatusProcessing); err != nil {
			s.logger.ErrorContext(ctx, "failed to claim event",
				slog.String("event", event.Name), slog.String("error", err.Error()))

			continue
		}

		claimed = append(claimed, claimedEvent{Event: event, wasStatus: wasStatus})
	}

	return claimed
}

type claimedEvent struct {
	ep.Event

	wasStatus ep.Status
}

// needsArchival reports whether the event gets the pre-trigger window.
// Events already matched once (done, within the reprocess window) only
// refresh the prompt side.
func (c claimedEvent) needsArchival() bool {
	return c.wasStatus == ep.StatusPending || c.wasStatus == ep.StatusReprocess
}

func (s *Service) archivalPass(ctx context.Context, events []claimedEvent) []claimedEvent {
	var queries []catalog.ConeSearchQuery

	for _, c := range events {
		if c.needsArchival() {
			queries = append(queries, catalog.BuildConeSearch(c.Event, s.cfg.Search, true))
		}
	}

	if len(queries) == 0 {
		return events
	}

	results, failures := s.searcher.ConeSearches(ctx, queries)

	promptReady := make([]claimedEvent, 0, len(events))

	for _, c := range events {
		if !c.needsArchival() {
			promptReady = append(promptReady, c)

			continue
		}

		if err, ok := failures[c.ID]; ok {
			s.fail(ctx, c.Event, fmt.Sprintf("archival cone search: %v", err))

			continue
		}

		if err := s.storeAlerts(ctx, c.Event, results[c.ID], true); err != nil {
			s.fail(ctx, c.Event, fmt.Sprintf("storing archival matches: %v", err))

			continue
		}

		promptReady = append(promptReady, c)
	}

	return promptReady
}

func (s *Service) promptPass(ctx context.Context, events []claimedEvent) {
	if len(events) == 0 {
		return
	}

	queries := make([]catalog.ConeSearchQuery, 0, len(events))
	for _, c := range events {
		queries = append(queries, catalog.BuildConeSearch(c.Event, s.cfg.Search, false))
	}

	results, failures := s.searcher.ConeSearches(ctx, queries)

	for _, c := range events {
		if err, ok := failures[c.ID]; ok {
			s.fail(ctx, c.Event, fmt.Sprintf("prompt cone search: %v", err))

			continue
		}

		if err := s.storeAlerts(ctx, c.Event, results[c.ID], false); err != nil {
			s.fail(ctx, c.Event, fmt.Sprintf("storing prompt matches: %v", err))

			continue
		}

		if err := s.store.UpdateEventStatus(ctx, c.ID, ep.StatusDone); err != nil {
			s.logger.ErrorContext(ctx, "failed to finish event",
				slog.String("event", c.Name), slog.String("error", err.Error()))
		}
	}
}

// storeAlerts filters catalog alerts and writes the survivors. Inserts
// are skip-on-duplicate so re-running a window is idempotent.
func (s *Service) storeAlerts(ctx context.Context, event ep.Event, alerts []catalog.Alert, archival bool) error {
	kept := 0

	for i := range alerts {
		alert := alerts[i]

		if catalog.IsRedStar(&alert) {
			s.logger.DebugContext(ctx, "rejected red stellar match",
				slog.String("event", event.Name),
				slog.String("object_id", alert.ObjectID))

			continue
		}

		xm := s.buildXmatch(event, &alert, archival)

		written, err := s.store.InsertXmatch(ctx, xm, ep.DuplicateSkip)
		if err != nil {
			return err
		}

		if written {
			kept++
			s.announce(ctx, event.Name, xm)
		}
	}

	if kept > 0 {
		s.logger.InfoContext(ctx, "stored matches",
			slog.String("event", event.Name),
			slog.Bool("archival", archival),
			slog.Int("count", kept))
	}

	return nil
}

// buildXmatch derives the stored record from an alert and its event.
func (s *Service) buildXmatch(event ep.Event, alert *catalog.Alert, archival bool) *Xmatch {
	eventJD := astro.TimeToJD(event.ObsStart)
	distanceArcmin := astro.GreatCircleDistance(event.RA, event.Dec, alert.RA, alert.Dec) * 60

	return &Xmatch{
		EventID:        event.ID,
		Candid:         alert.Candid,
		ObjectID:       alert.ObjectID,
		JD:             alert.JD,
		RA:             alert.RA,
		Dec:            alert.Dec,
		FID:            alert.FID,
		MagPSF:         alert.MagPSF,
		SigmaPSF:       alert.SigmaPSF,
		DRB:            alert.DRB,
		DeltaT:         alert.JD - eventJD,
		DistanceArcmin: distanceArcmin,
		DistanceRatio:  distanceArcmin / (event.PosErr * 60),
		Age:            alert.JD - alert.JDStartHist,
		SGScore:        alert.SGScore,
		DistPSNR:       alert.DistPSNR,
		SSDistNR:       alert.SSDistNR,
		SSMagNR:        alert.SSMagNR,
		NDetHist:       alert.NDetHist,
		Archival:       archival,
	}
}

func (s *Service) fail(ctx context.Context, event ep.Event, reason string) {
	s.logger.WarnContext(ctx, "event failed",
		slog.String("event", event.Name),
		slog.String("reason", reason))

	if err := s.store.UpdateEventStatus(ctx, event.ID, ep.FailedStatus(reason)); err != nil {
		s.logger.ErrorContext(ctx, "failed to record event failure",
			slog.String("event", event.Name), slog.String("error", err.Error()))
	}
}

func (s *Service) announce(ctx context.Context, eventName string, xm *Xmatch) {
	if s.announcer == nil {
		return
	}

	if err := s.announcer.Announce(ctx, eventName, xm); err != nil {
		s.logger.WarnContext(ctx, "match announcement failed",
			slog.String("event", eventName),
			slog.String("object_id", xm.ObjectID),
			slog.String("error", err.Error()))
	}
}
