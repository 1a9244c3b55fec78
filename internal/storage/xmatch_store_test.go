package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

func TestBuildXmatchQueryDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	query, args := buildXmatchQuery(nil, nil)

	if !strings.Contains(query, "JOIN events e ON e.id = x.event_id") {
		t.Error("query missing events join")
	}

	if strings.Contains(query, "WHERE") {
		t.Errorf("nil filter produced WHERE clause: %s", query)
	}

	if !strings.Contains(query, "ORDER BY x.jd DESC, x.object_id DESC") {
		t.Error("query missing deterministic ordering")
	}

	if len(args) != 2 {
		t.Fatalf("args = %d, want 2", len(args))
	}
}

func TestBuildXmatchQueryForwarderSelection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	shipped := false
	createdAfter := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	detectedAfter := 2460000.5
	ageDays := 31.0
	filter := &matcher.XmatchFilter{
		ToBroker:      &shipped,
		CreatedAfter:  &createdAfter,
		DetectedAfter: &detectedAfter,
		EventAgeDays:  &ageDays,
	}

	query, args := buildXmatchQuery(filter, nil)

	for _, want := range []string{
		"x.to_broker = $1",
		"x.created_at >= $2",
		"x.jd >= $3",
		"e.obs_start >= NOW() - ($4 * INTERVAL '1 day')",
		"LIMIT $5 OFFSET $6",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}

	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}

	if args[0] != false {
		t.Errorf("to_broker arg = %v, want false", args[0])
	}

	if args[1] != createdAfter {
		t.Errorf("created_after arg = %v, want %v", args[1], createdAfter)
	}
}

func TestBuildXmatchQueryReaderFilters(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	archival := false
	minDT := -0.04
	maxDT := 0.04
	filter := &matcher.XmatchFilter{
		EventIDs:               []int64{7, 8},
		Archival:               &archival,
		MinDeltaT:              &minDT,
		MaxDeltaT:              &maxDT,
		DeduplicateByEventName: true,
	}

	query, args := buildXmatchQuery(filter, nil)

	for _, want := range []string{
		"x.event_id = ANY($1)",
		"x.archival = $2",
		"x.delta_t >= $3",
		"x.delta_t <= $4",
		"NOT EXISTS (",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}

	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
}
