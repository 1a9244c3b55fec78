// Package forwarder ships cross-matches to the downstream broker: it posts
// candidates, imports photometry once per object, maintains the merged
// per-event annotations, and marks rows shipped.
package forwarder

import (
	"context"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// Store defines what the forwarder needs from the record keeper. The
// PostgreSQL implementation lives in internal/storage.
type Store interface {
	// FetchXmatches returns cross-matches matching the filter plus the
	// unpaginated total, in the default order (jd desc, object_id desc).
	FetchXmatches(ctx context.Context, filter *matcher.XmatchFilter, page *matcher.Pagination) ([]matcher.Xmatch, int, error)

	// FetchEventByID returns one event, or nil when it does not exist.
	FetchEventByID(ctx context.Context, id int64) (*ep.Event, error)

	// MarkXmatchShipped flips to_broker to true. The flip is monotone:
	// marking an already-shipped row is a no-op, never an error.
	MarkXmatchShipped(ctx context.Context, id int64) error

	// CountNewerShipped counts shipped rows for the object with an alert
	// JD strictly later than jd. Used for the import-once check.
	CountNewerShipped(ctx context.Context, objectID string, jd float64) (int, error)
}
