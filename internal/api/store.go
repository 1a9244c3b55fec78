// Package api provides the HTTP read API for the cross-match service.
package api

import (
	"context"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// Store defines what the read API needs from persistent storage.
//
// The interface is declared here, on the consumer side, so the api
// package depends on behavior rather than on a concrete store. The
// storage.PipelineStore satisfies it; the cmd wiring is where that is
// checked, since storage cannot import this package.
type Store interface {
	// FetchEvents returns events matching the filter plus the total
	// count before pagination.
	FetchEvents(ctx context.Context, filter *matcher.EventFilter, page *matcher.Pagination) ([]ep.Event, int, error)

	// FetchXmatches returns cross-matches matching the filter plus the
	// total count before pagination.
	FetchXmatches(ctx context.Context, filter *matcher.XmatchFilter, page *matcher.Pagination) ([]matcher.Xmatch, int, error)

	// ReprocessAllEvents flags every event for a fresh matching pass and
	// discards all stored matches, atomically. Returns the number of
	// events flagged.
	ReprocessAllEvents(ctx context.Context) (int64, error)

	// HealthCheck verifies the storage backend is reachable.
	HealthCheck(ctx context.Context) error
}
