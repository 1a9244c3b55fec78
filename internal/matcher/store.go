package matcher

import (
	"context"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

// Store defines what the matcher needs from the record keeper.
//
// The domain package defines this interface so the cycle logic does not
// depend on a concrete database. The PostgreSQL implementation lives in
// internal/storage.
type Store interface {
	// FetchEvents returns events matching the filter plus the unpaginated
	// total.
	FetchEvents(ctx context.Context, filter *EventFilter, page *Pagination) ([]ep.Event, int, error)

	// UpdateEventStatus atomically sets query_status, last_queried = now
	// and updated_at = now.
	UpdateEventStatus(ctx context.Context, id int64, status ep.Status) error

	// InsertXmatch upserts one cross-match on (event_id, candid). Returns
	// whether a new row was written.
	InsertXmatch(ctx context.Context, row *Xmatch, policy ep.DuplicatePolicy) (bool, error)

	// DeleteXmatchesForEvent removes an event's matches, optionally keeping
	// the archival rows. Returns the number of rows deleted.
	DeleteXmatchesForEvent(ctx context.Context, eventID int64, keepArchival bool) (int64, error)
}
