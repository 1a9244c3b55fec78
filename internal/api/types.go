// Package api provides the HTTP read API for the cross-match service.
package api

import (
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

type (
	// EventListResponse represents the response for GET /api/events.
	// Contains a paginated list of events with metadata for pagination.
	EventListResponse struct {
		Events []EventSummary `json:"events"`
		Total  int            `json:"total"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
	}

	// EventSummary represents a single transient event in the list view.
	EventSummary struct {
		ID              int64      `json:"id"`
		Name            string     `json:"name"`
		RA              float64    `json:"ra"`
		Dec             float64    `json:"dec"`
		PosErr          float64    `json:"pos_err"`                //nolint:tagliatelle
		ObsStart        time.Time  `json:"obs_start"`              //nolint:tagliatelle
		ExpTime         float64    `json:"exp_time"`               //nolint:tagliatelle
		Flux            float64    `json:"flux"`
		SrcID           int64      `json:"src_id"`                 //nolint:tagliatelle
		SrcSignificance float64    `json:"src_significance"`       //nolint:tagliatelle
		Version         string     `json:"version"`
		QueryStatus     string     `json:"query_status"`           //nolint:tagliatelle
		LastQueried     *time.Time `json:"last_queried,omitempty"` //nolint:tagliatelle
		CreatedAt       time.Time  `json:"created_at"`             //nolint:tagliatelle
		UpdatedAt       time.Time  `json:"updated_at"`             //nolint:tagliatelle
	}

	// XmatchListResponse represents the response for
	// GET /api/events/{name}/xmatches and GET /api/candidates.
	XmatchListResponse struct {
		Xmatches []XmatchSummary `json:"xmatches"`
		Total    int             `json:"total"`
		Limit    int             `json:"limit"`
		Offset   int             `json:"offset"`
	}

	// XmatchSummary represents a single cross-match in list views.
	XmatchSummary struct {
		ID             int64     `json:"id"`
		EventID        int64     `json:"event_id"`        //nolint:tagliatelle
		ObjectID       string    `json:"object_id"`       //nolint:tagliatelle
		Candid         int64     `json:"candid"`
		JD             float64   `json:"jd"`
		RA             float64   `json:"ra"`
		Dec            float64   `json:"dec"`
		FID            int       `json:"fid"`
		MagPSF         float64   `json:"magpsf"`
		SigmaPSF       float64   `json:"sigmapsf"`
		DRB            float64   `json:"drb"`
		DeltaT         float64   `json:"delta_t"`         //nolint:tagliatelle
		DistanceArcmin float64   `json:"distance_arcmin"` //nolint:tagliatelle
		DistanceRatio  float64   `json:"distance_ratio"`  //nolint:tagliatelle
		Age            float64   `json:"age"`
		SGScore        *float64  `json:"sgscore,omitempty"`
		DistPSNR       *float64  `json:"distpsnr,omitempty"`
		SSDistNR       *float64  `json:"ssdistnr,omitempty"`
		SSMagNR        *float64  `json:"ssmagnr,omitempty"`
		NDetHist       int       `json:"ndethist"`
		Archival       bool      `json:"archival"`
		ToBroker       bool      `json:"to_broker"`       //nolint:tagliatelle
		CreatedAt      time.Time `json:"created_at"`      //nolint:tagliatelle
	}

	// ReprocessResponse represents the response for POST /api/admin/reprocess.
	ReprocessResponse struct {
		EventsFlagged int64  `json:"events_flagged"` //nolint:tagliatelle
		Status        string `json:"status"`
	}
)

// toEventSummary converts a domain event to its API representation.
func toEventSummary(event *ep.Event) EventSummary {
	return EventSummary{
		ID:              event.ID,
		Name:            event.Name,
		RA:              event.RA,
		Dec:             event.Dec,
		PosErr:          event.PosErr,
		ObsStart:        event.ObsStart,
		ExpTime:         event.ExpTime,
		Flux:            event.Flux,
		SrcID:           event.SrcID,
		SrcSignificance: event.SrcSignificance,
		Version:         event.Version,
		QueryStatus:     event.QueryStatus.String(),
		LastQueried:     event.LastQueried,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
	}
}

// toXmatchSummary converts a domain cross-match to its API representation.
func toXmatchSummary(xm *matcher.Xmatch) XmatchSummary {
	return XmatchSummary{
		ID:             xm.ID,
		EventID:        xm.EventID,
		ObjectID:       xm.ObjectID,
		Candid:         xm.Candid,
		JD:             xm.JD,
		RA:             xm.RA,
		Dec:            xm.Dec,
		FID:            xm.FID,
		MagPSF:         xm.MagPSF,
		SigmaPSF:       xm.SigmaPSF,
		DRB:            xm.DRB,
		DeltaT:         xm.DeltaT,
		DistanceArcmin: xm.DistanceArcmin,
		DistanceRatio:  xm.DistanceRatio,
		Age:            xm.Age,
		SGScore:        xm.SGScore,
		DistPSNR:       xm.DistPSNR,
		SSDistNR:       xm.SSDistNR,
		SSMagNR:        xm.SSMagNR,
		NDetHist:       xm.NDetHist,
		Archival:       xm.Archival,
		ToBroker:       xm.ToBroker,
		CreatedAt:      xm.CreatedAt,
	}
}
