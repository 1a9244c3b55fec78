package storage

import (
	"strings"
	"testing"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

func TestBuildEventQueryDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	query, args := buildEventQuery(nil, nil)

	if !strings.Contains(query, "COUNT(*) OVER() AS total_count") {
		t.Error("query missing window total count")
	}

	if strings.Contains(query, "WHERE") {
		t.Errorf("nil filter produced WHERE clause: %s", query)
	}

	if !strings.Contains(query, "ORDER BY e.obs_start DESC, e.id DESC") {
		t.Error("query missing deterministic ordering")
	}

	// Only limit and offset remain as arguments.
	if len(args) != 2 {
		t.Fatalf("args = %d, want 2", len(args))
	}

	if args[0] != defaultEventLimit || args[1] != 0 {
		t.Errorf("default pagination args = %v, want [%d 0]", args, defaultEventLimit)
	}
}

func TestBuildEventQueryFilters(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	status := ep.StatusPending
	maxDT := 0.05
	filter := &matcher.EventFilter{
		Names:        []string{"EP240101a", "EP240102b"},
		Status:       &status,
		CanReprocess: true,
		LatestOnly:   true,
		HasMatches: &matcher.HasMatchesFilter{
			IgnoreArchival: true,
			MaxDeltaT:      &maxDT,
		},
	}

	query, args := buildEventQuery(filter, &matcher.Pagination{Limit: 10, Offset: 20})

	for _, want := range []string{
		"e.name = ANY($1)",
		"e.query_status = $2",
		"e.query_status = 'reprocess'",
		"e.last_queried IS NULL",
		"NOT EXISTS (",
		"(substring(newer.version from 2))::int",
		"x.archival = FALSE",
		"ABS(x.delta_t) <= $3",
		"LIMIT $4 OFFSET $5",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}

	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}

	if args[1] != "pending" {
		t.Errorf("status arg = %v, want pending", args[1])
	}

	if args[3] != 10 || args[4] != 20 {
		t.Errorf("pagination args = %v %v, want 10 20", args[3], args[4])
	}
}

func TestBuildEventQueryLimitClamp(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, args := buildEventQuery(nil, &matcher.Pagination{Limit: 50000})

	if args[0] != maxEventLimit {
		t.Errorf("limit arg = %v, want clamp to %d", args[0], maxEventLimit)
	}
}
