package ep

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// validRecordJSON builds one upstream record with every allow-list column,
// optionally overriding or dropping fields.
func validRecordJSON(overrides map[string]string, drop ...string) string {
	fields := map[string]string{
		"name":             `"EP240315a"`,
		"ra":               `150.2213`,
		"dec":              `-23.9981`,
		"pos_err":          `0.01`,
		"obs_start":        `"2024-03-15T08:30:00Z"`,
		"exp_time":         `1200.0`,
		"flux":             `1.3e-11`,
		"src_id":           `42`,
		"src_significance": `8.7`,
		"bkg_counts":       `12.0`,
		"net_counts":       `150.0`,
		"net_rate":         `0.125`,
		"version":          `"v1"`,
	}

	for k, v := range overrides {
		fields[k] = v
	}

	for _, k := range drop {
		delete(fields, k)
	}

	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%q: %s", k, v))
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

func TestParseCandidates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := "[" + validRecordJSON(nil) + "]"

	events, err := ParseCandidates([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	e := events[0]
	if e.Name != "EP240315a" {
		t.Errorf("Name = %q, want EP240315a", e.Name)
	}

	if e.RA != 150.2213 || e.Dec != -23.9981 {
		t.Errorf("position = (%f, %f), want (150.2213, -23.9981)", e.RA, e.Dec)
	}

	wantObsStart := time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)
	if !e.ObsStart.Equal(wantObsStart) {
		t.Errorf("ObsStart = %v, want %v", e.ObsStart, wantObsStart)
	}

	if e.SrcID != 42 {
		t.Errorf("SrcID = %d, want 42", e.SrcID)
	}

	if e.QueryStatus != StatusPending {
		t.Errorf("QueryStatus = %q, want pending", e.QueryStatus)
	}
}

func TestParseCandidatesMissingColumnAbortsBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, column := range RequiredColumns {
		t.Run(column, func(t *testing.T) {
			// First record valid, second missing one column. The whole
			// batch must abort; no partial ingest.
			payload := "[" + validRecordJSON(nil) + "," + validRecordJSON(nil, column) + "]"

			events, err := ParseCandidates([]byte(payload))
			if !errors.Is(err, ErrMissingColumn) {
				t.Errorf("error = %v, want ErrMissingColumn", err)
			}

			if events != nil {
				t.Errorf("got %d events, want none", len(events))
			}
		})
	}
}

func TestParseCandidatesRejectsBadValues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		overrides map[string]string
		wantErr   error
	}{
		{
			name:      "obs_start without Z suffix",
			overrides: map[string]string{"obs_start": `"2024-03-15T08:30:00"`},
			wantErr:   ErrMalformedObsStart,
		},
		{
			name:      "obs_start with offset instead of Z",
			overrides: map[string]string{"obs_start": `"2024-03-15T08:30:00+02:00"`},
			wantErr:   ErrMalformedObsStart,
		},
		{
			name:      "malformed version",
			overrides: map[string]string{"version": `"version1"`},
			wantErr:   ErrMalformedVersion,
		},
		{
			name:      "empty name",
			overrides: map[string]string{"name": `""`},
			wantErr:   ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := "[" + validRecordJSON(tt.overrides) + "]"

			if _, err := ParseCandidates([]byte(payload)); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCandidatesIgnoresExtraColumns(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := "[" + validRecordJSON(map[string]string{"instrument": `"WXT"`}) + "]"

	events, err := ParseCandidates([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestParseCandidatesEmptyArray(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	events, err := ParseCandidates([]byte("[]"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}
