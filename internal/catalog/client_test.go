package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

func newTestClient(baseURL string, maxConcurrent int) *Client {
	return NewClient(&ClientConfig{
		BaseURL:       baseURL,
		Token:         "cat-token",
		Timeout:       2 * time.Second,
		MaxConcurrent: maxConcurrent,
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

// labelFromQuery digs the radec key out of a submitted query body.
func labelFromQuery(body []byte) string {
	var q map[string]interface{}
	if err := json.Unmarshal(body, &q); err != nil {
		return ""
	}

	query := q["query"].(map[string]interface{})
	coords := query["object_coordinates"].(map[string]interface{})
	radec := coords["radec"].(map[string]interface{})

	for label := range radec {
		return label
	}

	return ""
}

func successBody(label string, alerts string) string {
	return fmt.Sprintf(`{"status": "success", "data": {"ZTF_alerts": {%q: %s}}}`, label, alerts)
}

func TestConeSearches(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queries" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		if got := r.Header.Get("Authorization"); got != "Bearer cat-token" {
			t.Errorf("Authorization = %q, want Bearer cat-token", got)
		}

		body, _ := io.ReadAll(r.Body)
		label := labelFromQuery(body)

		switch label {
		case "EP1":
			_, _ = w.Write([]byte(successBody("EP1", `[{"candid": 100, "object_id": "ZTF24aaa", "jd": 2460380.5}]`)))
		case "EP2":
			_, _ = w.Write([]byte(successBody("EP2", `[]`)))
		default:
			t.Errorf("unexpected query label %q", label)
		}
	}))
	defer server.Close()

	p := testParams()
	queries := []ConeSearchQuery{
		BuildConeSearch(ep.Event{ID: 1, Name: "EP1", RA: 10, Dec: 20, PosErr: 0.01, ObsStart: time.Now().UTC()}, p, false),
		BuildConeSearch(ep.Event{ID: 2, Name: "EP2", RA: 30, Dec: 40, PosErr: 0.01, ObsStart: time.Now().UTC()}, p, false),
	}

	alerts, failures := newTestClient(server.URL, 4).ConeSearches(context.Background(), queries)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	if len(alerts[1]) != 1 || alerts[1][0].Candid != 100 {
		t.Errorf("event 1 alerts = %+v, want one with candid 100", alerts[1])
	}

	if got, ok := alerts[2]; !ok || len(got) != 0 {
		t.Errorf("event 2 alerts = %+v, want present and empty", got)
	}
}

func TestConeSearchesVersionsOfOneName(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two versions of one event name in the same batch. Each query's
	// label carries the version, so the responses never cross.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		label := labelFromQuery(body)

		switch label {
		case "EP240301a_v1":
			_, _ = w.Write([]byte(successBody(label, `[{"candid": 111, "object_id": "ZTF24v1", "jd": 2460380.5}]`)))
		case "EP240301a_v2":
			_, _ = w.Write([]byte(successBody(label, `[{"candid": 222, "object_id": "ZTF24v2", "jd": 2460390.5}]`)))
		default:
			t.Errorf("unexpected query label %q", label)
		}
	}))
	defer server.Close()

	p := testParams()
	obsStart := time.Now().UTC()
	queries := []ConeSearchQuery{
		BuildConeSearch(ep.Event{ID: 1, Name: "EP240301a", Version: "v1", RA: 10, Dec: 20, PosErr: 0.01, ObsStart: obsStart}, p, true),
		BuildConeSearch(ep.Event{ID: 2, Name: "EP240301a", Version: "v2", RA: 10, Dec: 20, PosErr: 0.01, ObsStart: obsStart.AddDate(0, 0, 10)}, p, true),
	}

	alerts, failures := newTestClient(server.URL, 4).ConeSearches(context.Background(), queries)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	if len(alerts[1]) != 1 || alerts[1][0].Candid != 111 {
		t.Errorf("v1 alerts = %+v, want candid 111", alerts[1])
	}

	if len(alerts[2]) != 1 || alerts[2][0].Candid != 222 {
		t.Errorf("v2 alerts = %+v, want candid 222", alerts[2])
	}
}

func TestConeSearchesPerEventFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if labelFromQuery(body) == "EP-BAD" {
			_, _ = w.Write([]byte(`{"status": "error", "message": "catalog exploded"}`))

			return
		}

		_, _ = w.Write([]byte(successBody("EP-OK", `[{"candid": 5, "object_id": "ZTF24bbb", "jd": 2460380.5}]`)))
	}))
	defer server.Close()

	p := testParams()
	queries := []ConeSearchQuery{
		BuildConeSearch(ep.Event{ID: 1, Name: "EP-OK", RA: 1, Dec: 2, PosErr: 0.01, ObsStart: time.Now().UTC()}, p, false),
		BuildConeSearch(ep.Event{ID: 2, Name: "EP-BAD", RA: 3, Dec: 4, PosErr: 0.01, ObsStart: time.Now().UTC()}, p, false),
	}

	alerts, failures := newTestClient(server.URL, 4).ConeSearches(context.Background(), queries)

	if len(alerts[1]) != 1 {
		t.Errorf("EP-OK alerts = %+v, want 1", alerts[1])
	}

	if err := failures[2]; !errors.Is(err, ErrQueryFailed) {
		t.Errorf("EP-BAD error = %v, want ErrQueryFailed", err)
	}

	if _, ok := alerts[2]; ok {
		t.Error("EP-BAD must not appear in the alert map")
	}
}

func TestConeSearchesBoundedConcurrency(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	const maxConcurrent = 4

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		total    atomic.Int32
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		total.Add(1)

		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(successBody(labelFromQuery(body), `[]`)))
	}))
	defer server.Close()

	p := testParams()

	queries := make([]ConeSearchQuery, 0, 12)
	for i := 0; i < 12; i++ {
		queries = append(queries, BuildConeSearch(ep.Event{
			ID:       int64(i + 1),
			Name:     fmt.Sprintf("EP-%d", i),
			RA:       float64(i),
			Dec:      float64(i),
			PosErr:   0.01,
			ObsStart: time.Now().UTC(),
		}, p, false))
	}

	alerts, failures := newTestClient(server.URL, maxConcurrent).ConeSearches(context.Background(), queries)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	if len(alerts) != 12 || total.Load() != 12 {
		t.Errorf("got %d results from %d requests, want 12/12", len(alerts), total.Load())
	}

	if peak > maxConcurrent {
		t.Errorf("peak concurrency %d exceeded limit %d", peak, maxConcurrent)
	}
}

func TestConeSearchesHTTPError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	queries := []ConeSearchQuery{
		BuildConeSearch(ep.Event{ID: 1, Name: "EP1", PosErr: 0.01, ObsStart: time.Now().UTC()}, testParams(), false),
	}

	_, failures := newTestClient(server.URL, 4).ConeSearches(context.Background(), queries)

	if err := failures[1]; !errors.Is(err, ErrCatalogStatus) {
		t.Errorf("error = %v, want ErrCatalogStatus", err)
	}
}
