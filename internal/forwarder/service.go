package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/Theodlz/ep-ztf-xmatch/internal/astro"
	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

const (
	// createdWindow limits shipping to matches stored recently; older
	// unshipped rows are the matcher's to re-create, not ours to replay.
	createdWindow = 24 * time.Hour

	// detectedWindowDays drops candidates whose detection is too old for
	// the broker's alert archive import to be useful.
	detectedWindowDays = 62

	candidateBatchLimit = 200
)

// Broker is the slice of the SkyPortal client the service uses.
type Broker interface {
	PostCandidate(ctx context.Context, xm *matcher.Xmatch) (duplicate bool, err error)
	ImportAlert(ctx context.Context, xm *matcher.Xmatch) error
	UpsertAnnotation(ctx context.Context, objectID string, rec AnnotationRecord) error
}

var _ Broker = (*SkyPortal)(nil)

// ServiceConfig holds forwarder cycle settings.
type ServiceConfig struct {
	// Interval is the pause between shipping cycles.
	Interval time.Duration

	// Pause spaces out per-candidate broker traffic.
	Pause time.Duration

	// MaxEventAgeDays drops candidates whose event is too old to ship.
	MaxEventAgeDays float64
}

// LoadServiceConfig reads forwarder settings from the environment.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Interval:        config.GetEnvDuration("FORWARD_INTERVAL", time.Minute),
		Pause:           config.GetEnvDuration("FORWARD_PAUSE", 5*time.Second),
		MaxEventAgeDays: config.GetEnvFloat("MAX_EVENT_AGE", 31.0),
	}
}

// Service ships unshipped matches to the broker one at a time.
type Service struct {
	store   Store
	broker  Broker
	cfg     ServiceConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewService creates a forwarder service.
func NewService(store Store, broker Broker, cfg ServiceConfig) *Service {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "forwarder"))

	return &Service{
		store:   store,
		broker:  broker,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Pause), 1),
		logger:  logger,
	}
}

// Run executes shipping cycles until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "forwarder started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Float64("max_event_age_days", s.cfg.MaxEventAgeDays))

	for {
		if err := s.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			s.logger.ErrorContext(ctx, "shipping cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "forwarder stopping")

			return ctx.Err()
		case <-time.After(s.cfg.Interval):
		}
	}
}

// Cycle ships every currently eligible match.
func (s *Service) Cycle(ctx context.Context) error {
	unshipped := false
	createdAfter := time.Now().UTC().Add(-createdWindow)
	detectedAfter := astro.TimeToJD(time.Now().UTC().AddDate(0, 0, -detectedWindowDays))
	maxAge := s.cfg.MaxEventAgeDays

	matches, total, err := s.store.FetchXmatches(ctx, &matcher.XmatchFilter{
		ToBroker:      &unshipped,
		CreatedAfter:  &createdAfter,
		DetectedAfter: &detectedAfter,
		EventAgeDays:  &maxAge,
	}, &matcher.Pagination{Limit: candidateBatchLimit})
	if err != nil {
		return err
	}

	if total == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "shipping cycle started",
		slog.Int("candidates", len(matches)), slog.Int("total", total))

	for i := range matches {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		xm := matches[i]

		shipped, err := s.processXmatch(ctx, &xm)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to ship candidate",
				slog.String("object_id", xm.ObjectID),
				slog.Int64("candid", xm.Candid),
				slog.String("error", err.Error()))

			continue
		}

		if !shipped {
			continue
		}

		if err := s.store.MarkXmatchShipped(ctx, xm.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark candidate shipped",
				slog.Int64("xmatch_id", xm.ID), slog.String("error", err.Error()))
		}
	}

	return nil
}

// processXmatch ships one match. It reports whether the match should be
// marked shipped; age-gated and orphaned candidates are skipped without
// marking so a later config change can still pick them up.
func (s *Service) processXmatch(ctx context.Context, xm *matcher.Xmatch) (bool, error) {
	event, err := s.store.FetchEventByID(ctx, xm.EventID)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping candidate with missing event",
			slog.Int64("event_id", xm.EventID), slog.String("object_id", xm.ObjectID))

		return false, nil
	}

	ageDays := time.Since(event.ObsStart).Hours() / 24
	if ageDays > s.cfg.MaxEventAgeDays {
		s.logger.InfoContext(ctx, "skipping candidate, event too old",
			slog.String("event", event.Name),
			slog.String("object_id", xm.ObjectID),
			slog.Float64("age_days", ageDays),
			slog.Float64("max_age_days", s.cfg.MaxEventAgeDays))

		return false, nil
	}

	duplicate, err := s.broker.PostCandidate(ctx, xm)
	if err != nil {
		return false, err
	}

	newerShipped, err := s.store.CountNewerShipped(ctx, xm.ObjectID, xm.JD)
	if err != nil {
		return false, err
	}

	// Import photometry and cutouts once per object: only for a fresh
	// candidate with no newer shipped sibling.
	if !duplicate && newerShipped == 0 {
		if err := s.broker.ImportAlert(ctx, xm); err != nil {
			return false, err
		}
	}

	if err := s.broker.UpsertAnnotation(ctx, xm.ObjectID, s.buildRecord(event, xm)); err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "shipped candidate",
		slog.String("event", event.Name),
		slog.String("object_id", xm.ObjectID),
		slog.Int64("candid", xm.Candid))

	return true, nil
}

// buildRecord derives the annotation entry for one (event, match) pair.
func (s *Service) buildRecord(event *ep.Event, xm *matcher.Xmatch) AnnotationRecord {
	epMJD := astro.JDToMJD(astro.TimeToJD(event.ObsStart))
	ndethist := xm.NDetHist

	return AnnotationRecord{
		Name:           event.Name,
		DeltaT:         Round2(&xm.DeltaT),
		DistanceArcmin: Round2(&xm.DistanceArcmin),
		DRB:            Round2(&xm.DRB),
		Age:            Round2(&xm.Age),
		SGScore:        Round2(xm.SGScore),
		DistPSNR:       Round2(xm.DistPSNR),
		SSDistNR:       Round2(xm.SSDistNR),
		SSMagNR:        Round2(xm.SSMagNR),
		NDetHist:       &ndethist,
		EPMJD:          &epMJD,
	}
}
