package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/astro"
	"github.com/Theodlz/ep-ztf-xmatch/internal/catalog"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

type fakeStore struct {
	events []ep.Event

	statuses    map[int64]ep.Status
	inserted    []*Xmatch
	deleted     []int64
	insertErr   error
	existing    map[string]bool
	statusCalls []ep.Status
}

func newFakeStore(events ...ep.Event) *fakeStore {
	return &fakeStore{
		events:   events,
		statuses: make(map[int64]ep.Status),
		existing: make(map[string]bool),
	}
}

func (f *fakeStore) FetchEvents(_ context.Context, filter *EventFilter, _ *Pagination) ([]ep.Event, int, error) {
	var out []ep.Event

	for _, e := range f.events {
		status := e.QueryStatus
		if s, ok := f.statuses[e.ID]; ok {
			status = s
		}

		switch {
		case filter != nil && filter.Status != nil:
			if status == *filter.Status {
				out = append(out, e)
			}
		case filter != nil && filter.CanReprocess:
			if status == ep.StatusReprocess {
				out = append(out, e)
			}
		default:
			out = append(out, e)
		}
	}

	return out, len(out), nil
}

func (f *fakeStore) UpdateEventStatus(_ context.Context, id int64, status ep.Status) error {
	f.statuses[id] = status
	f.statusCalls = append(f.statusCalls, status)

	return nil
}

func (f *fakeStore) InsertXmatch(_ context.Context, xm *Xmatch, _ ep.DuplicatePolicy) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}

	key := fmt.Sprintf("%d/%d", xm.EventID, xm.Candid)
	if f.existing[key] {
		return false, nil
	}

	f.existing[key] = true
	f.inserted = append(f.inserted, xm)

	return true, nil
}

func (f *fakeStore) DeleteXmatchesForEvent(_ context.Context, eventID int64, _ bool) (int64, error) {
	f.deleted = append(f.deleted, eventID)

	return 0, nil
}

type fakeSearcher struct {
	calls   [][]catalog.ConeSearchQuery
	results map[int64][]catalog.Alert
	fail    map[int64]error
}

func (f *fakeSearcher) ConeSearches(_ context.Context, queries []catalog.ConeSearchQuery) (map[int64][]catalog.Alert, map[int64]error) {
	f.calls = append(f.calls, queries)

	results := make(map[int64][]catalog.Alert)
	failures := make(map[int64]error)

	for _, q := range queries {
		if err, ok := f.fail[q.EventID]; ok {
			failures[q.EventID] = err

			continue
		}

		results[q.EventID] = f.results[q.EventID]
	}

	return results, failures
}

type fakeAnnouncer struct {
	announced []string
}

func (f *fakeAnnouncer) Announce(_ context.Context, eventName string, _ *Xmatch) error {
	f.announced = append(f.announced, eventName)

	return nil
}

func pendingEvent(id int64, name string) ep.Event {
	return ep.Event{
		ID:          id,
		Name:        name,
		RA:          150.0,
		Dec:         -20.0,
		PosErr:      0.01,
		ObsStart:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:     "v1",
		QueryStatus: ep.StatusPending,
	}
}

func cleanAlert(candid int64, objectID string, jd float64) catalog.Alert {
	sgscore := 0.1

	return catalog.Alert{
		Candid:      candid,
		ObjectID:    objectID,
		JD:          jd,
		RA:          150.002,
		Dec:         -20.001,
		FID:         2,
		MagPSF:      19.5,
		SigmaPSF:    0.12,
		DRB:         0.97,
		JDStartHist: jd - 2.5,
		SGScore:     &sgscore,
		NDetHist:    4,
	}
}

func testConfig() ServiceConfig {
	return ServiceConfig{
		Interval: time.Minute,
		Search: catalog.SearchParams{
			DeltaT:           1.0,
			DeltaTArchival:   31.0,
			RadiusMultiplier: 1.0,
			Cuts:             catalog.DefaultQualityCuts(),
		},
	}
}

func TestCycleStoresMatchesAndFinishes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := pendingEvent(1, "EP240101a")
	store := newFakeStore(event)

	eventJD := astro.TimeToJD(event.ObsStart)
	searcher := &fakeSearcher{
		results: map[int64][]catalog.Alert{
			1: {cleanAlert(1001, "ZTF26aaaaaaa", eventJD+1.5)},
		},
	}
	announcer := &fakeAnnouncer{}

	svc := NewService(store, searcher, announcer, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	// One archival batch, one prompt batch.
	if len(searcher.calls) != 2 {
		t.Fatalf("searcher calls = %d, want 2", len(searcher.calls))
	}

	if store.statuses[1] != ep.StatusDone {
		t.Errorf("final status = %s, want done", store.statuses[1])
	}

	// The same alert comes back from both windows but is stored once.
	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}

	xm := store.inserted[0]
	if xm.EventID != 1 || xm.Candid != 1001 {
		t.Errorf("stored match keys = (%d, %d), want (1, 1001)", xm.EventID, xm.Candid)
	}

	if math.Abs(xm.DeltaT-1.5) > 1e-9 {
		t.Errorf("delta_t = %v, want 1.5", xm.DeltaT)
	}

	if math.Abs(xm.Age-2.5) > 1e-9 {
		t.Errorf("age = %v, want 2.5", xm.Age)
	}

	wantDist := astro.GreatCircleDistance(150.0, -20.0, 150.002, -20.001) * 60
	if math.Abs(xm.DistanceArcmin-wantDist) > 1e-9 {
		t.Errorf("distance_arcmin = %v, want %v", xm.DistanceArcmin, wantDist)
	}

	if math.Abs(xm.DistanceRatio-wantDist/(0.01*60)) > 1e-9 {
		t.Errorf("distance_ratio = %v", xm.DistanceRatio)
	}

	if len(announcer.announced) != 1 {
		t.Errorf("announced = %d, want 1", len(announcer.announced))
	}
}

func TestCycleArchivalFailureSkipsPrompt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	good := pendingEvent(1, "EP240101a")
	bad := pendingEvent(2, "EP240102b")
	store := newFakeStore(good, bad)

	searcher := &fakeSearcher{
		fail: map[int64]error{2: errors.New("catalog unavailable")},
	}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if !store.statuses[2].IsFailed() {
		t.Errorf("failed event status = %s, want failed", store.statuses[2])
	}

	if store.statuses[1] != ep.StatusDone {
		t.Errorf("good event status = %s, want done", store.statuses[1])
	}

	// Prompt batch carries only the surviving event.
	if len(searcher.calls) != 2 {
		t.Fatalf("searcher calls = %d, want 2", len(searcher.calls))
	}

	prompt := searcher.calls[1]
	if len(prompt) != 1 || prompt[0].EventID != 1 {
		t.Errorf("prompt batch = %v, want only event 1", prompt)
	}
}

func TestCycleKeepsVersionWindowsSeparate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two pending versions of one event name, observed 10 days apart,
	// can share a matching cycle. Each version's window results must
	// land on that version only.
	older := pendingEvent(1, "EP240301a")
	newer := pendingEvent(2, "EP240301a")
	newer.Version = "v2"
	newer.ObsStart = older.ObsStart.AddDate(0, 0, 10)

	store := newFakeStore(older, newer)

	// One alert inside the newer version's archival window. Relative to
	// the older version it sits 8 days in the future, far outside any
	// archival window.
	newerJD := astro.TimeToJD(newer.ObsStart)
	searcher := &fakeSearcher{
		results: map[int64][]catalog.Alert{
			2: {cleanAlert(4001, "ZTF26version", newerJD-2.0)},
		},
	}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}

	xm := store.inserted[0]
	if xm.EventID != 2 {
		t.Errorf("stored against event %d, want 2", xm.EventID)
	}

	if !xm.Archival {
		t.Error("match should be archival for the newer version")
	}

	if math.Abs(xm.DeltaT-(-2.0)) > 1e-9 {
		t.Errorf("delta_t = %v, want -2.0", xm.DeltaT)
	}

	// Archival rows always predate their event's prompt window.
	for _, row := range store.inserted {
		if row.Archival && row.DeltaT > -testConfig().Search.DeltaT {
			t.Errorf("archival row delta_t = %v, want <= %v", row.DeltaT, -testConfig().Search.DeltaT)
		}
	}

	if store.statuses[1] != ep.StatusDone || store.statuses[2] != ep.StatusDone {
		t.Errorf("statuses = %v, want both done", store.statuses)
	}
}

func TestCycleZeroRadiusEventSkipsSearch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := pendingEvent(1, "EP240103c")
	event.PosErr = 0

	store := newFakeStore(event)
	searcher := &fakeSearcher{}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(searcher.calls) != 0 {
		t.Errorf("searcher calls = %d, want 0", len(searcher.calls))
	}

	if store.statuses[1] != ep.StatusDone {
		t.Errorf("status = %s, want done", store.statuses[1])
	}

	if len(store.inserted) != 0 {
		t.Errorf("inserted = %d, want 0", len(store.inserted))
	}
}

func TestCycleReprocessClearsMatchesAndRunsArchival(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := pendingEvent(1, "EP240104d")
	event.QueryStatus = ep.StatusReprocess

	store := newFakeStore(event)
	searcher := &fakeSearcher{}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1]", store.deleted)
	}

	if len(searcher.calls) != 2 {
		t.Fatalf("searcher calls = %d, want 2 (archival then prompt)", len(searcher.calls))
	}

	if len(searcher.calls[0]) != 1 {
		t.Errorf("archival batch = %d queries, want 1", len(searcher.calls[0]))
	}
}

func TestCycleRejectsRedStars(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := pendingEvent(1, "EP240105e")
	store := newFakeStore(event)

	eventJD := astro.TimeToJD(event.ObsStart)

	red := cleanAlert(2001, "ZTF26redstar", eventJD+0.5)
	sgscore, distpsnr := 0.5, 0.5
	srmag, simag := 18.0, 14.0
	red.SGScore = &sgscore
	red.DistPSNR = &distpsnr
	red.SRMag = &srmag
	red.SIMag = &simag

	searcher := &fakeSearcher{
		results: map[int64][]catalog.Alert{
			1: {red, cleanAlert(2002, "ZTF26cleanone", eventJD+0.6)},
		},
	}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}

	if store.inserted[0].ObjectID != "ZTF26cleanone" {
		t.Errorf("stored object = %s, want ZTF26cleanone", store.inserted[0].ObjectID)
	}
}

func TestCycleStoreFailureMarksEventFailed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := pendingEvent(1, "EP240106f")
	store := newFakeStore(event)
	store.insertErr = errors.New("connection refused")

	eventJD := astro.TimeToJD(event.ObsStart)
	searcher := &fakeSearcher{
		results: map[int64][]catalog.Alert{
			1: {cleanAlert(3001, "ZTF26ffffff", eventJD-5)},
		},
	}

	svc := NewService(store, searcher, nil, testConfig())

	if err := svc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if !store.statuses[1].IsFailed() {
		t.Errorf("status = %s, want failed", store.statuses[1])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	svc := NewService(store, &fakeSearcher{}, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
