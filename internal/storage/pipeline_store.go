package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/forwarder"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// Sentinel errors for pipeline storage operations.
var (
	// ErrEventStoreFailed is returned when an event storage operation fails.
	ErrEventStoreFailed = errors.New("event storage failed")

	// ErrDuplicateEvent is returned under DuplicateFail when the batch
	// collides with a stored (name, version) pair.
	ErrDuplicateEvent = errors.New("event already exists")

	// ErrXmatchStoreFailed is returned when a cross-match storage operation
	// fails.
	ErrXmatchStoreFailed = errors.New("cross-match storage failed")

	// ErrEventNotFound is returned when a status update targets a missing
	// event.
	ErrEventNotFound = errors.New("event not found")

	// Compile-time interface assertions. Early compile errors if the
	// consumer contracts change.
	_ ep.Store        = (*PipelineStore)(nil)
	_ matcher.Store   = (*PipelineStore)(nil)
	_ forwarder.Store = (*PipelineStore)(nil)
)

// uniqueViolation is the PostgreSQL error code for unique-constraint
// violations.
const uniqueViolation = "23505"

// PipelineStore implements the event and cross-match persistence the three
// workers and the read API share, backed by PostgreSQL.
type PipelineStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPipelineStore creates the PostgreSQL-backed record keeper.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewPipelineStore(conn *Connection) (*PipelineStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PipelineStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})).With(slog.String("component", "storage")),
	}, nil
}

const eventColumns = `name, ra, dec, pos_err, obs_start, exp_time, flux,
	src_id, src_significance, bkg_counts, net_counts, net_rate, version,
	query_status`

// InsertEvents implements ep.Store. The whole batch commits in one
// transaction; on any error nothing is written.
func (s *PipelineStore) InsertEvents(ctx context.Context, events []ep.Event, policy ep.DuplicatePolicy) (*ep.InsertResult, error) {
	start := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrEventStoreFailed, err)
	}

	defer func() { _ = tx.Rollback() }()

	result := &ep.InsertResult{}

	for i := range events {
		written, err := insertEvent(ctx, tx, &events[i], policy)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s %s: %w", ErrEventStoreFailed, events[i].Name, events[i].Version, err)
		}

		switch {
		case written:
			result.Inserted++
		case policy == ep.DuplicateUpdate:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrEventStoreFailed, err)
	}

	s.logger.Debug("event batch stored",
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("updated", result.Updated),
		slog.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *ep.Event, policy ep.DuplicatePolicy) (bool, error) {
	query := `INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	status := event.QueryStatus
	if status == "" {
		status = ep.StatusPending
	}

	args := []interface{}{
		event.Name, event.RA, event.Dec, event.PosErr,
		event.ObsStart.UTC(), event.ExpTime, event.Flux, event.SrcID,
		event.SrcSignificance, event.BkgCounts, event.NetCounts,
		event.NetRate, event.Version, status.String(),
	}

	if policy == ep.DuplicateUpdate {
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		query += ` ON CONFLICT (name, version) DO UPDATE SET
			ra = EXCLUDED.ra, dec = EXCLUDED.dec, pos_err = EXCLUDED.pos_err,
			obs_start = EXCLUDED.obs_start, exp_time = EXCLUDED.exp_time,
			flux = EXCLUDED.flux, src_id = EXCLUDED.src_id,
			src_significance = EXCLUDED.src_significance,
			bkg_counts = EXCLUDED.bkg_counts, net_counts = EXCLUDED.net_counts,
			net_rate = EXCLUDED.net_rate, updated_at = NOW()
			RETURNING (xmax = 0) AS inserted`

		var inserted bool
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&inserted); err != nil {
			return false, err
		}

		return inserted, nil
	}

	if policy == ep.DuplicateSkip {
		query += ` ON CONFLICT (name, version) DO NOTHING`
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicateEvent
		}

		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// isUniqueViolation checks for PostgreSQL unique-constraint errors (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// isConnectionError checks if an error indicates database connection failure.
// PostgreSQL Class 08 codes are all connection-related.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// HealthCheck verifies the backing database is reachable.
func (s *PipelineStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}
