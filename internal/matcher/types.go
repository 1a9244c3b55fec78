// Package matcher runs the cross-matching cycle: it claims pending and
// reprocess-eligible events, issues archival then prompt cone searches
// against the remote catalog, computes the derived fields, and persists the
// surviving matches.
//
// The package also owns the cross-match domain model and the store filter
// types shared with the forwarder and the read API.
package matcher

import (
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

type (
	// Xmatch represents one catalog alert associated to one event -
	// Domain Model.
	//
	// Logical identity is (EventID, Candid); the store upserts on that pair
	// so a partial failure never produces duplicate rows on retry.
	Xmatch struct {
		// ID is the store-assigned surrogate key (0 until inserted).
		ID int64

		// EventID references the matched event.
		EventID int64

		// Candid is the remote alert's immutable identifier.
		Candid int64

		// ObjectID is the remote object designation.
		ObjectID string

		// JD is the alert timestamp as a Julian Date.
		JD float64

		// RA and Dec are the alert position in degrees.
		RA  float64
		Dec float64

		// FID is the filter (band) identifier.
		FID int

		// MagPSF and SigmaPSF are the PSF-fit magnitude and uncertainty.
		MagPSF   float64
		SigmaPSF float64

		// DRB is the deep-learning real/bogus score.
		DRB float64

		// DeltaT is jd_alert - jd_event in Julian days. Negative for alerts
		// preceding the event.
		DeltaT float64

		// DistanceArcmin is the great-circle separation between alert and
		// event in arcminutes.
		DistanceArcmin float64

		// DistanceRatio is DistanceArcmin over the event's error radius in
		// arcminutes.
		DistanceRatio float64

		// Age is jd_alert minus the object's first-detection JD.
		Age float64

		// SGScore, DistPSNR, SSDistNR and SSMagNR carry the catalog's PS1
		// and solar-system context; nil when the catalog had no value.
		SGScore  *float64
		DistPSNR *float64
		SSDistNR *float64
		SSMagNR  *float64

		// NDetHist is the detection history count.
		NDetHist int

		// Archival marks alerts from the pre-event window.
		Archival bool

		// ToBroker marks rows already shipped downstream. Flips false to
		// true exactly once; a reprocess deletes the row instead of
		// flipping it back.
		ToBroker bool

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// EventFilter selects events in FetchEvents. Zero-valued fields are
	// ignored.
	EventFilter struct {
		// Names restricts to the given event names.
		Names []string

		// IDs restricts to the given surrogate keys.
		IDs []int64

		// Status restricts to one query_status.
		Status *ep.Status

		// CanReprocess restricts to events eligible for re-querying:
		// status reprocess, or done with obs_start within 31 days and not
		// queried in the last 10 minutes.
		CanReprocess bool

		// LatestOnly keeps only the highest-version row per name.
		LatestOnly bool

		// HasMatches keeps only events with at least one qualifying match.
		HasMatches *HasMatchesFilter
	}

	// HasMatchesFilter qualifies the matches an event must have.
	HasMatchesFilter struct {
		// IgnoreArchival counts only prompt matches.
		IgnoreArchival bool

		// MaxDeltaT, when set, counts only matches with |delta_t| at or
		// below this bound (Julian days).
		MaxDeltaT *float64
	}

	// XmatchFilter selects cross-matches in FetchXmatches. Zero-valued
	// fields are ignored.
	XmatchFilter struct {
		// EventIDs restricts to matches of the given events.
		EventIDs []int64

		// Archival and ToBroker restrict on the boolean flags.
		Archival *bool
		ToBroker *bool

		// CreatedAfter keeps rows inserted at or after the instant.
		CreatedAfter *time.Time

		// DetectedAfter is a JD lower bound on the alert time.
		DetectedAfter *float64

		// MinDeltaT and MaxDeltaT bound delta_t (Julian days).
		MinDeltaT *float64
		MaxDeltaT *float64

		// EventAgeDays keeps rows whose event's obs_start is within the
		// given number of days of now.
		EventAgeDays *float64

		// DeduplicateByEventName keeps only rows whose event is the latest
		// version for its name.
		DeduplicateByEventName bool
	}

	// Pagination is a LIMIT/OFFSET page request.
	Pagination struct {
		Limit  int
		Offset int
	}
)
