package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

const (
	// canReprocessInterval bounds how far back a done event stays eligible
	// for re-querying, and how recently it may have been queried.
	canReprocessWindowDays   = 31
	canReprocessCooldownMins = 10

	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// latestVersionPredicate keeps only the highest stored version per event
// name. Versions are stored as "v<n>" so ordering strips the prefix.
const latestVersionPredicate = `NOT EXISTS (
		SELECT 1 FROM events newer
		WHERE newer.name = e.name
		  AND (substring(newer.version from 2))::int > (substring(e.version from 2))::int
	)`

// FetchEvents returns events matching the filter along with the total
// count before pagination.
func (s *PipelineStore) FetchEvents(ctx context.Context, filter *matcher.EventFilter, page *matcher.Pagination) ([]ep.Event, int, error) {
	query, args := buildEventQuery(filter, page)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying events: %w", ErrEventStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var (
		events []ep.Event
		total  int
	)

	for rows.Next() {
		var event ep.Event
		if err := rows.Scan(
			&event.ID, &event.Name, &event.RA, &event.Dec, &event.PosErr,
			&event.ObsStart, &event.ExpTime, &event.Flux, &event.SrcID,
			&event.SrcSignificance, &event.BkgCounts, &event.NetCounts,
			&event.NetRate, &event.Version, &event.LastQueried,
			&event.QueryStatus, &event.CreatedAt, &event.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning event row: %w", ErrEventStoreFailed, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating event rows: %w", ErrEventStoreFailed, err)
	}

	return events, total, nil
}

// FetchEventByID returns a single event or ErrEventNotFound.
func (s *PipelineStore) FetchEventByID(ctx context.Context, id int64) (*ep.Event, error) {
	query := `SELECT id, name, ra, dec, pos_err, obs_start, exp_time, flux,
			src_id, src_significance, bkg_counts, net_counts, net_rate,
			version, last_queried, query_status, created_at, updated_at
		FROM events WHERE id = $1`

	var event ep.Event

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&event.ID, &event.Name, &event.RA, &event.Dec, &event.PosErr,
		&event.ObsStart, &event.ExpTime, &event.Flux, &event.SrcID,
		&event.SrcSignificance, &event.BkgCounts, &event.NetCounts,
		&event.NetRate, &event.Version, &event.LastQueried,
		&event.QueryStatus, &event.CreatedAt, &event.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: fetching event %d: %w", ErrEventStoreFailed, id, err)
	}

	return &event, nil
}

// UpdateEventStatus records the outcome of a matching pass and stamps
// last_queried so the reprocess cooldown has a reference point.
func (s *PipelineStore) UpdateEventStatus(ctx context.Context, id int64, status ep.Status) error {
	query := `UPDATE events
		SET query_status = $1, last_queried = NOW(), updated_at = NOW()
		WHERE id = $2`

	res, err := s.conn.ExecContext(ctx, query, status.String(), id)
	if err != nil {
		return fmt.Errorf("%w: updating event %d status: %w", ErrEventStoreFailed, id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating event %d status: %w", ErrEventStoreFailed, id, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}

	return nil
}

// ReprocessAllEvents flags every event for a fresh matching pass and
// discards all stored matches, in one transaction.
func (s *PipelineStore) ReprocessAllEvents(ctx context.Context) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning reprocess transaction: %w", ErrEventStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM xmatches`); err != nil {
		return 0, fmt.Errorf("%w: clearing matches: %w", ErrEventStoreFailed, err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE events SET query_status = $1, updated_at = NOW()`, ep.StatusReprocess.String())
	if err != nil {
		return 0, fmt.Errorf("%w: flagging events for reprocess: %w", ErrEventStoreFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: flagging events for reprocess: %w", ErrEventStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing reprocess transaction: %w", ErrEventStoreFailed, err)
	}

	return affected, nil
}

// buildEventQuery assembles the SELECT with filter conditions and
// pagination, returning the query and its positional arguments.
func buildEventQuery(filter *matcher.EventFilter, page *matcher.Pagination) (string, []interface{}) {
	query := `SELECT e.id, e.name, e.ra, e.dec, e.pos_err, e.obs_start,
			e.exp_time, e.flux, e.src_id, e.src_significance, e.bkg_counts,
			e.net_counts, e.net_rate, e.version, e.last_queried,
			e.query_status, e.created_at, e.updated_at,
			COUNT(*) OVER() AS total_count
		FROM events e`

	conditions, args := buildEventConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY e.obs_start DESC, e.id DESC"

	limit := defaultEventLimit
	offset := 0

	if page != nil {
		if page.Limit > 0 {
			limit = page.Limit
		}

		if limit > maxEventLimit {
			limit = maxEventLimit
		}

		if page.Offset > 0 {
			offset = page.Offset
		}
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return query, args
}

func buildEventConditions(filter *matcher.EventFilter) ([]string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter == nil {
		return conditions, args
	}

	if len(filter.Names) > 0 {
		args = append(args, pq.Array(filter.Names))
		conditions = append(conditions, fmt.Sprintf("e.name = ANY($%d)", len(args)))
	}

	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conditions = append(conditions, fmt.Sprintf("e.id = ANY($%d)", len(args)))
	}

	if filter.Status != nil {
		args = append(args, filter.Status.String())
		conditions = append(conditions, fmt.Sprintf("e.query_status = $%d", len(args)))
	}

	if filter.CanReprocess {
		conditions = append(conditions, fmt.Sprintf(
			`(e.query_status = 'reprocess' OR (e.query_status = 'done'
				AND e.obs_start >= NOW() - INTERVAL '%d days'
				AND (e.last_queried IS NULL OR e.last_queried < NOW() - INTERVAL '%d minutes')))`,
			canReprocessWindowDays, canReprocessCooldownMins))
	}

	if filter.LatestOnly {
		conditions = append(conditions, latestVersionPredicate)
	}

	if filter.HasMatches != nil {
		sub := `EXISTS (SELECT 1 FROM xmatches x WHERE x.event_id = e.id`
		if filter.HasMatches.IgnoreArchival {
			sub += ` AND x.archival = FALSE`
		}

		if filter.HasMatches.MaxDeltaT != nil {
			args = append(args, *filter.HasMatches.MaxDeltaT)
			sub += fmt.Sprintf(` AND ABS(x.delta_t) <= $%d`, len(args))
		}

		sub += `)`
		conditions = append(conditions, sub)
	}

	return conditions, args
}
