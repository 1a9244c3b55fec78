package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

const (
	defaultXmatchLimit = 100
	maxXmatchLimit     = 1000
)

const xmatchColumns = `event_id, candid, object_id, jd, ra, dec, fid,
	mag_psf, sigma_psf, drb, delta_t, distance_arcmin, distance_ratio, age,
	sgscore, distpsnr, ssdistnr, ssmagnr, ndethist, archival`

// InsertXmatch stores one cross-match. The boolean reports whether a new
// row was written; with ep.DuplicateSkip an existing (event_id, candid)
// pair leaves the row untouched.
func (s *PipelineStore) InsertXmatch(ctx context.Context, xm *matcher.Xmatch, policy ep.DuplicatePolicy) (bool, error) {
	query := `INSERT INTO xmatches (` + xmatchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	args := []interface{}{
		xm.EventID, xm.Candid, xm.ObjectID, xm.JD, xm.RA, xm.Dec, xm.FID,
		xm.MagPSF, xm.SigmaPSF, xm.DRB, xm.DeltaT, xm.DistanceArcmin,
		xm.DistanceRatio, xm.Age, xm.SGScore, xm.DistPSNR, xm.SSDistNR,
		xm.SSMagNR, xm.NDetHist, xm.Archival,
	}

	if policy == ep.DuplicateUpdate {
		query += ` ON CONFLICT (event_id, candid) DO UPDATE SET
			jd = EXCLUDED.jd, ra = EXCLUDED.ra, dec = EXCLUDED.dec,
			fid = EXCLUDED.fid, mag_psf = EXCLUDED.mag_psf,
			sigma_psf = EXCLUDED.sigma_psf, drb = EXCLUDED.drb,
			delta_t = EXCLUDED.delta_t,
			distance_arcmin = EXCLUDED.distance_arcmin,
			distance_ratio = EXCLUDED.distance_ratio, age = EXCLUDED.age,
			sgscore = EXCLUDED.sgscore, distpsnr = EXCLUDED.distpsnr,
			ssdistnr = EXCLUDED.ssdistnr, ssmagnr = EXCLUDED.ssmagnr,
			ndethist = EXCLUDED.ndethist, archival = EXCLUDED.archival,
			updated_at = NOW()
			RETURNING (xmax = 0) AS inserted`

		var inserted bool
		if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&inserted); err != nil {
			return false, fmt.Errorf("%w: upserting match for event %d: %w", ErrXmatchStoreFailed, xm.EventID, err)
		}

		return inserted, nil
	}

	if policy == ep.DuplicateSkip {
		query += ` ON CONFLICT (event_id, candid) DO NOTHING`
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: event %d candid %d already stored", ErrXmatchStoreFailed, xm.EventID, xm.Candid)
		}

		return false, fmt.Errorf("%w: inserting match for event %d: %w", ErrXmatchStoreFailed, xm.EventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: inserting match for event %d: %w", ErrXmatchStoreFailed, xm.EventID, err)
	}

	return affected > 0, nil
}

// DeleteXmatchesForEvent removes stored matches for an event before a
// re-match. keepArchival preserves rows from archival passes so those
// windows are not re-queried.
func (s *PipelineStore) DeleteXmatchesForEvent(ctx context.Context, eventID int64, keepArchival bool) (int64, error) {
	query := `DELETE FROM xmatches WHERE event_id = $1`
	if keepArchival {
		query += ` AND archival = FALSE`
	}

	res, err := s.conn.ExecContext(ctx, query, eventID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting matches for event %d: %w", ErrXmatchStoreFailed, eventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: deleting matches for event %d: %w", ErrXmatchStoreFailed, eventID, err)
	}

	return affected, nil
}

// FetchXmatches returns matches joined with their parent event, filtered
// and paginated, plus the total count before pagination.
func (s *PipelineStore) FetchXmatches(ctx context.Context, filter *matcher.XmatchFilter, page *matcher.Pagination) ([]matcher.Xmatch, int, error) {
	query, args := buildXmatchQuery(filter, page)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying matches: %w", ErrXmatchStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var (
		matches []matcher.Xmatch
		total   int
	)

	for rows.Next() {
		var xm matcher.Xmatch
		if err := rows.Scan(
			&xm.ID, &xm.EventID, &xm.Candid, &xm.ObjectID, &xm.JD,
			&xm.RA, &xm.Dec, &xm.FID, &xm.MagPSF, &xm.SigmaPSF, &xm.DRB,
			&xm.DeltaT, &xm.DistanceArcmin, &xm.DistanceRatio, &xm.Age,
			&xm.SGScore, &xm.DistPSNR, &xm.SSDistNR, &xm.SSMagNR,
			&xm.NDetHist, &xm.Archival, &xm.ToBroker,
			&xm.CreatedAt, &xm.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning match row: %w", ErrXmatchStoreFailed, err)
		}

		matches = append(matches, xm)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating match rows: %w", ErrXmatchStoreFailed, err)
	}

	return matches, total, nil
}

// MarkXmatchShipped flips to_broker for a match. The flag only moves
// from false to true; marking an already shipped match is a no-op.
func (s *PipelineStore) MarkXmatchShipped(ctx context.Context, id int64) error {
	query := `UPDATE xmatches SET to_broker = TRUE, updated_at = NOW()
		WHERE id = $1 AND to_broker = FALSE`

	if _, err := s.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%w: marking match %d shipped: %w", ErrXmatchStoreFailed, id, err)
	}

	return nil
}

// CountNewerShipped counts shipped matches for an object with a later
// detection time. Used to decide whether a broker import is still needed.
func (s *PipelineStore) CountNewerShipped(ctx context.Context, objectID string, jd float64) (int, error) {
	query := `SELECT COUNT(*) FROM xmatches
		WHERE object_id = $1 AND jd > $2 AND to_broker = TRUE`

	var count int
	if err := s.conn.QueryRowContext(ctx, query, objectID, jd).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting shipped matches for %s: %w", ErrXmatchStoreFailed, objectID, err)
	}

	return count, nil
}

func buildXmatchQuery(filter *matcher.XmatchFilter, page *matcher.Pagination) (string, []interface{}) {
	query := `SELECT x.id, x.event_id, x.candid, x.object_id, x.jd,
			x.ra, x.dec, x.fid, x.mag_psf, x.sigma_psf, x.drb,
			x.delta_t, x.distance_arcmin, x.distance_ratio, x.age,
			x.sgscore, x.distpsnr, x.ssdistnr, x.ssmagnr,
			x.ndethist, x.archival, x.to_broker,
			x.created_at, x.updated_at,
			COUNT(*) OVER() AS total_count
		FROM xmatches x
		JOIN events e ON e.id = x.event_id`

	conditions, args := buildXmatchConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY x.jd DESC, x.object_id DESC"

	limit := defaultXmatchLimit
	offset := 0

	if page != nil {
		if page.Limit > 0 {
			limit = page.Limit
		}

		if limit > maxXmatchLimit {
			limit = maxXmatchLimit
		}

		if page.Offset > 0 {
			offset = page.Offset
		}
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return query, args
}

func buildXmatchConditions(filter *matcher.XmatchFilter) ([]string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter == nil {
		return conditions, args
	}

	if len(filter.EventIDs) > 0 {
		args = append(args, pq.Array(filter.EventIDs))
		conditions = append(conditions, fmt.Sprintf("x.event_id = ANY($%d)", len(args)))
	}

	if filter.Archival != nil {
		args = append(args, *filter.Archival)
		conditions = append(conditions, fmt.Sprintf("x.archival = $%d", len(args)))
	}

	if filter.ToBroker != nil {
		args = append(args, *filter.ToBroker)
		conditions = append(conditions, fmt.Sprintf("x.to_broker = $%d", len(args)))
	}

	if filter.CreatedAfter != nil {
		args = append(args, filter.CreatedAfter.UTC())
		conditions = append(conditions, fmt.Sprintf("x.created_at >= $%d", len(args)))
	}

	if filter.DetectedAfter != nil {
		args = append(args, *filter.DetectedAfter)
		conditions = append(conditions, fmt.Sprintf("x.jd >= $%d", len(args)))
	}

	if filter.MinDeltaT != nil {
		args = append(args, *filter.MinDeltaT)
		conditions = append(conditions, fmt.Sprintf("x.delta_t >= $%d", len(args)))
	}

	if filter.MaxDeltaT != nil {
		args = append(args, *filter.MaxDeltaT)
		conditions = append(conditions, fmt.Sprintf("x.delta_t <= $%d", len(args)))
	}

	if filter.EventAgeDays != nil {
		args = append(args, *filter.EventAgeDays)
		conditions = append(conditions, fmt.Sprintf("e.obs_start >= NOW() - ($%d * INTERVAL '1 day')", len(args)))
	}

	if filter.DeduplicateByEventName {
		conditions = append(conditions, latestVersionPredicate)
	}

	return conditions, args
}
