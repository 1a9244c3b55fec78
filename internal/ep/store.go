package ep

import "context"

// Store defines what the ingester needs for event persistence.
//
// The domain package defines this interface so the poller does not depend on
// a concrete database. The PostgreSQL implementation lives in
// internal/storage.
type Store interface {
	// InsertEvents stores a batch of events in a single transaction.
	//
	// On a (name, version) collision the duplicate policy decides: skip
	// leaves the stored row untouched, update overwrites it, fail aborts
	// the transaction. The ingester always inserts with DuplicateSkip and
	// query_status pending.
	InsertEvents(ctx context.Context, events []Event, policy DuplicatePolicy) (*InsertResult, error)
}

// InsertResult summarizes one batch insert.
type InsertResult struct {
	// Inserted is the number of rows newly written.
	Inserted int

	// Skipped is the number of rows left untouched under DuplicateSkip.
	Skipped int

	// Updated is the number of rows overwritten under DuplicateUpdate.
	Updated int
}
