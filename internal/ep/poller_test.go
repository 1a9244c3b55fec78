package ep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeStore struct {
	batches  [][]Event
	policies []DuplicatePolicy
	err      error
}

func (f *fakeStore) InsertEvents(_ context.Context, events []Event, policy DuplicatePolicy) (*InsertResult, error) {
	f.batches = append(f.batches, events)
	f.policies = append(f.policies, policy)

	if f.err != nil {
		return nil, f.err
	}

	return &InsertResult{Inserted: len(events)}, nil
}

func TestPollerCycle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/get_tokenp":
			_, _ = w.Write([]byte(`{"token": "tok-1"}`))
		case "/data_center/api/unverified_candidates":
			_, _ = w.Write([]byte("[" + validRecordJSON(nil) + "]"))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	store := &fakeStore{}
	poller := NewPoller(
		testClient(server.URL),
		store,
		&PollerConfig{Interval: time.Hour},
		testLogger(),
	)

	poller.cycle(context.Background())

	if len(store.batches) != 1 {
		t.Fatalf("store called %d times, want 1", len(store.batches))
	}

	if len(store.batches[0]) != 1 || store.batches[0][0].Name != "EP240315a" {
		t.Errorf("unexpected batch: %+v", store.batches[0])
	}

	if store.policies[0] != DuplicateSkip {
		t.Errorf("policy = %v, want DuplicateSkip", store.policies[0])
	}
}

func TestPollerCycleAbortsOnBadBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/get_tokenp":
			_, _ = w.Write([]byte(`{"token": "tok-1"}`))
		case "/data_center/api/unverified_candidates":
			// Second record is missing ra; nothing may reach the store.
			_, _ = w.Write([]byte("[" + validRecordJSON(nil) + "," + validRecordJSON(nil, "ra") + "]"))
		}
	}))
	defer server.Close()

	store := &fakeStore{}
	poller := NewPoller(
		testClient(server.URL),
		store,
		&PollerConfig{Interval: time.Hour},
		testLogger(),
	)

	poller.cycle(context.Background())

	if len(store.batches) != 0 {
		t.Errorf("store called %d times, want 0", len(store.batches))
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/get_tokenp":
			_, _ = w.Write([]byte(`{"token": "tok-1"}`))
		case "/data_center/api/unverified_candidates":
			_, _ = w.Write([]byte("[]"))
		}
	}))
	defer server.Close()

	poller := NewPoller(
		testClient(server.URL),
		&fakeStore{},
		&PollerConfig{Interval: time.Hour},
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run returned nil, want context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
