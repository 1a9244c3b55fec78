// Package ep provides the Einstein Probe domain models and upstream polling.
//
// The package owns the transient event model, the fixed upstream column
// allow-list, and the Store interface the ingester persists through. Concrete
// store implementations live in internal/storage.
package ep

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	// Event represents one transient candidate reported by the upstream
	// data center - Domain Model.
	//
	// Logical identity is (Name, Version); the store enforces uniqueness on
	// that pair. Multiple versions of the same name coexist, and the latest
	// version is the one with the highest numeric version tag.
	Event struct {
		// ID is the store-assigned surrogate key (0 until inserted).
		ID int64

		// Name is the upstream designation of the transient.
		Name string

		// RA is the J2000 right ascension in degrees.
		RA float64

		// Dec is the J2000 declination in degrees.
		Dec float64

		// PosErr is the positional error radius in degrees.
		PosErr float64

		// ObsStart is the observation start as a UTC instant.
		ObsStart time.Time

		// ExpTime is the exposure duration in seconds.
		ExpTime float64

		// Flux is the reported source flux, carried opaquely.
		Flux float64

		// SrcID is the upstream source identifier.
		SrcID int64

		// SrcSignificance, BkgCounts, NetCounts and NetRate are detection
		// numerics carried opaquely from upstream.
		SrcSignificance float64
		BkgCounts       float64
		NetCounts       float64
		NetRate         float64

		// Version is the upstream version tag, of the form "v<integer>".
		// Stored as text for round-trip fidelity, compared numerically.
		Version string

		// LastQueried is when the matcher last ran this event against the
		// remote catalog. Nil until the first query.
		LastQueried *time.Time

		// QueryStatus is the event's position in the matcher state machine.
		QueryStatus Status

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Status represents the matcher state machine states.
	//
	// The base states are pending, processing, done and reprocess. Failure is
	// open-ended: any status with the "failed:" prefix is a terminal failure
	// carrying its reason.
	Status string

	// DuplicatePolicy controls what an insert does when the batch collides
	// with an existing (name, version) row.
	DuplicatePolicy int
)

const (
	// StatusPending marks a freshly ingested event the matcher has not
	// claimed yet.
	StatusPending Status = "pending"

	// StatusProcessing marks an event the matcher has claimed this cycle.
	StatusProcessing Status = "processing"

	// StatusDone marks an event whose prompt pass completed successfully.
	// Done events may re-enter prompt processing while reprocess-eligible.
	StatusDone Status = "done"

	// StatusReprocess marks an event flagged for a full re-run of both
	// passes, typically by an admin bulk reprocess.
	StatusReprocess Status = "reprocess"

	failedPrefix = "failed:"
)

const (
	// DuplicateSkip leaves the existing row untouched.
	DuplicateSkip DuplicatePolicy = iota

	// DuplicateUpdate overwrites the existing row with the incoming values.
	DuplicateUpdate

	// DuplicateFail surfaces the collision as an error.
	DuplicateFail
)

// ErrMalformedVersion indicates a version tag that is not "v<integer>".
var ErrMalformedVersion = errors.New("version must be of the form v<integer>")

// FailedStatus builds the terminal failure status for a reason string.
func FailedStatus(reason string) Status {
	return Status(failedPrefix + reason)
}

// IsFailed reports whether the status is a failed:<reason> terminal state.
func (s Status) IsFailed() bool {
	return strings.HasPrefix(string(s), failedPrefix)
}

// FailureReason returns the reason carried by a failed status, or "" for
// non-failure states.
func (s Status) FailureReason() string {
	if !s.IsFailed() {
		return ""
	}

	return strings.TrimPrefix(string(s), failedPrefix)
}

// IsValid checks that the status is one of the base states or a failure.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusReprocess:
		return true
	default:
		return s.IsFailed() && s.FailureReason() != ""
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// VersionNumber parses a "v<integer>" version tag into its numeric value.
//
// Versions are compared numerically, never lexicographically: "v10" orders
// after "v9" even though it sorts before it as text.
func VersionNumber(version string) (int, error) {
	if len(version) < 2 || version[0] != 'v' {
		return 0, fmt.Errorf("%w: got %q", ErrMalformedVersion, version)
	}

	n, err := strconv.Atoi(version[1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: got %q", ErrMalformedVersion, version)
	}

	return n, nil
}
