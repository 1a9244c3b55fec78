package ep

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	return NewClient(&ClientConfig{
		BaseURL:  baseURL,
		Email:    "pipeline@example.org",
		Password: "secret",
		Timeout:  2 * time.Second,
	}, testLogger())
}

func TestFetchToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/get_tokenp" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &creds); err != nil {
			t.Errorf("bad credentials payload: %v", err)
		}

		if creds.Email != "pipeline@example.org" || creds.Password != "secret" {
			t.Errorf("unexpected credentials: %+v", creds)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token": "tok-123"}`))
	}))
	defer server.Close()

	token, err := testClient(server.URL).FetchToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if token != "tok-123" {
		t.Errorf("token = %q, want tok-123", token)
	}
}

func TestFetchTokenEmpty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"token": ""}`))
	}))
	defer server.Close()

	if _, err := testClient(server.URL).FetchToken(context.Background()); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("error = %v, want ErrEmptyToken", err)
	}
}

func TestFetchCandidates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data_center/api/unverified_candidates" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		if got := r.Header.Get("tdic-token"); got != "tok-123" {
			t.Errorf("tdic-token header = %q, want tok-123", got)
		}

		if got := r.URL.Query().Get("token"); got != "tok-123" {
			t.Errorf("token query = %q, want tok-123", got)
		}

		_, _ = w.Write([]byte("[" + validRecordJSON(nil) + "]"))
	}))
	defer server.Close()

	events, err := testClient(server.URL).FetchCandidates(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 1 || events[0].Name != "EP240315a" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestFetchCandidatesRetriesTransientFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("[" + validRecordJSON(nil) + "]"))
	}))
	defer server.Close()

	events, err := testClient(server.URL).FetchCandidates(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}

	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("upstream called %d times, want 3", got)
	}
}

func TestFetchCandidatesGivesUpAfterMaxRetries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := testClient(server.URL).FetchCandidates(context.Background(), "tok-123"); !errors.Is(err, ErrUpstreamStatus) {
		t.Errorf("error = %v, want ErrUpstreamStatus", err)
	}

	// Initial attempt plus maxFetchRetries.
	if got := calls.Load(); got != maxFetchRetries+1 {
		t.Errorf("upstream called %d times, want %d", got, maxFetchRetries+1)
	}
}

func TestFetchCandidatesValidationNotRetried(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("[" + validRecordJSON(nil, "pos_err") + "]"))
	}))
	defer server.Close()

	if _, err := testClient(server.URL).FetchCandidates(context.Background(), "tok-123"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("error = %v, want ErrMissingColumn", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("upstream called %d times, want 1", got)
	}
}
