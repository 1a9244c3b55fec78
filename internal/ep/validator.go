package ep

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ObsStartLayout is the strict timestamp layout upstream uses for obs_start:
// ISO-8601 with a literal Z suffix and whole seconds.
const ObsStartLayout = "2006-01-02T15:04:05Z"

// Sentinel errors for upstream record validation.
var (
	ErrMissingColumn     = errors.New("record is missing a required column")
	ErrMalformedRecord   = errors.New("record is not a JSON object")
	ErrMalformedObsStart = errors.New("obs_start is not an ISO-8601 UTC timestamp")
	ErrEmptyName         = errors.New("name cannot be empty")
)

// RequiredColumns is the fixed allow-list every upstream record must carry.
// A record missing any of these aborts the whole batch; the ingester never
// partially ingests.
var RequiredColumns = []string{
	"name", "ra", "dec", "pos_err", "obs_start", "exp_time", "flux",
	"src_id", "src_significance", "bkg_counts", "net_counts", "net_rate",
	"version",
}

// candidateRecord is the upstream wire shape of one unverified candidate.
type candidateRecord struct {
	Name            string  `json:"name"`
	RA              float64 `json:"ra"`
	Dec             float64 `json:"dec"`
	PosErr          float64 `json:"pos_err"`
	ObsStart        string  `json:"obs_start"`
	ExpTime         float64 `json:"exp_time"`
	Flux            float64 `json:"flux"`
	SrcID           int64   `json:"src_id"`
	SrcSignificance float64 `json:"src_significance"`
	BkgCounts       float64 `json:"bkg_counts"`
	NetCounts       float64 `json:"net_counts"`
	NetRate         float64 `json:"net_rate"`
	Version         string  `json:"version"`
}

// ParseCandidates decodes an upstream unverified_candidates payload into
// domain events.
//
// Validation is all-or-nothing: the first record that fails the allow-list,
// timestamp or version checks aborts the batch with an error naming the
// record index and what was wrong. Columns outside the allow-list are
// ignored.
func ParseCandidates(payload []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode candidates payload: %w", err)
	}

	events := make([]Event, 0, len(raw))

	for i, msg := range raw {
		event, err := parseCandidate(msg)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		events = append(events, event)
	}

	return events, nil
}

func parseCandidate(msg json.RawMessage) (Event, error) {
	// Presence check first: a column that is present-but-null still counts
	// as present, mirroring the upstream contract.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	for _, column := range RequiredColumns {
		if _, ok := fields[column]; !ok {
			return Event{}, fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
	}

	var rec candidateRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		return Event{}, fmt.Errorf("decode record: %w", err)
	}

	if rec.Name == "" {
		return Event{}, ErrEmptyName
	}

	obsStart, err := time.Parse(ObsStartLayout, rec.ObsStart)
	if err != nil {
		return Event{}, fmt.Errorf("%w: got %q", ErrMalformedObsStart, rec.ObsStart)
	}

	if _, err := VersionNumber(rec.Version); err != nil {
		return Event{}, err
	}

	return Event{
		Name:            rec.Name,
		RA:              rec.RA,
		Dec:             rec.Dec,
		PosErr:          rec.PosErr,
		ObsStart:        obsStart.UTC(),
		ExpTime:         rec.ExpTime,
		Flux:            rec.Flux,
		SrcID:           rec.SrcID,
		SrcSignificance: rec.SrcSignificance,
		BkgCounts:       rec.BkgCounts,
		NetCounts:       rec.NetCounts,
		NetRate:         rec.NetRate,
		Version:         rec.Version,
		QueryStatus:     StatusPending,
	}, nil
}
