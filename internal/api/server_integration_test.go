package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

type apiTestEnv struct {
	server *httptest.Server
	store  *storage.PipelineStore
	users  *storage.UserStore
}

// setupAPIServer starts a Postgres container, seeds one account per
// role, and serves the full middleware chain over httptest.
func setupAPIServer(ctx context.Context, t *testing.T) *apiTestEnv {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &storage.Connection{DB: testDB.Connection}

	store, err := storage.NewPipelineStore(conn)
	require.NoError(t, err)

	users := storage.NewUserStore(conn)

	for _, account := range []struct {
		username string
		role     storage.Role
	}{
		{"ext-user", storage.RoleExternal},
		{"partner-user", storage.RolePartner},
		{"caltech-user", storage.RoleCaltech},
	} {
		_, err := users.CreateUser(ctx, account.username, "integration-pass", "", account.role)
		require.NoError(t, err)
	}

	cfg := LoadServerConfig()
	cfg.NonAdminDeltaTMins = 60

	srv := NewServer(cfg, store, users, nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &apiTestEnv{server: ts, store: store, users: users}
}

// seedMatchedEvent inserts two versions of one event and attaches a
// prompt and an archival match to the latest version.
func seedMatchedEvent(ctx context.Context, t *testing.T, env *apiTestEnv, name string) int64 {
	t.Helper()

	obsStart := time.Now().UTC().Add(-24 * time.Hour)

	events := []ep.Event{
		{
			Name: name, RA: 150.1, Dec: 2.2, PosErr: 0.05, ObsStart: obsStart,
			ExpTime: 100, SrcID: 1, Version: "v1", QueryStatus: ep.StatusDone,
		},
		{
			Name: name, RA: 150.1, Dec: 2.2, PosErr: 0.05, ObsStart: obsStart,
			ExpTime: 100, SrcID: 1, Version: "v2", QueryStatus: ep.StatusDone,
		},
	}

	_, err := env.store.InsertEvents(ctx, events, ep.DuplicateSkip)
	require.NoError(t, err)

	stored, _, err := env.store.FetchEvents(ctx, &matcher.EventFilter{
		Names:      []string{name},
		LatestOnly: true,
	}, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	eventID := stored[0].ID

	prompt := &matcher.Xmatch{
		EventID: eventID, Candid: 1001, ObjectID: "ZTF26aaaaaaa",
		JD: 2461000.5, RA: 150.1, Dec: 2.2, FID: 1,
		MagPSF: 19.5, SigmaPSF: 0.1, DRB: 0.99,
		DeltaT: 0.01, DistanceArcmin: 1.2, DistanceRatio: 0.4,
		NDetHist: 3,
	}

	archival := &matcher.Xmatch{
		EventID: eventID, Candid: 1002, ObjectID: "ZTF26aaaaaab",
		JD: 2460990.5, RA: 150.1, Dec: 2.2, FID: 2,
		MagPSF: 20.1, SigmaPSF: 0.2, DRB: 0.95,
		DeltaT: -10.0, DistanceArcmin: 0.8, DistanceRatio: 0.3,
		NDetHist: 12, Archival: true,
	}

	for _, xm := range []*matcher.Xmatch{prompt, archival} {
		written, err := env.store.InsertXmatch(ctx, xm, ep.DuplicateSkip)
		require.NoError(t, err)
		require.True(t, written)
	}

	return eventID
}

func getJSON(t *testing.T, env *apiTestEnv, username, path string, out interface{}) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)

	if username != "" {
		req.SetBasicAuth(username, "integration-pass")
	}

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func TestAPIServerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := setupAPIServer(ctx, t)
	eventID := seedMatchedEvent(ctx, t, env, "EP250801a")

	t.Run("PingIsPublic", func(t *testing.T) {
		code := getJSON(t, env, "", "/ping", nil)
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("EventsRequireAuth", func(t *testing.T) {
		code := getJSON(t, env, "", "/api/events", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("ExternalSeesLatestMatchedEventOnly", func(t *testing.T) {
		var resp EventListResponse

		code := getJSON(t, env, "ext-user", "/api/events", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "v2", resp.Events[0].Version)
		assert.Equal(t, eventID, resp.Events[0].ID)
	})

	t.Run("CaltechSeesAllVersions", func(t *testing.T) {
		var resp EventListResponse

		code := getJSON(t, env, "caltech-user", "/api/events", &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("ExternalXmatchesExcludeArchival", func(t *testing.T) {
		var resp XmatchListResponse

		code := getJSON(t, env, "ext-user", "/api/events/EP250801a/xmatches", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Xmatches, 1)
		assert.Equal(t, int64(1001), resp.Xmatches[0].Candid)
		assert.False(t, resp.Xmatches[0].Archival)
	})

	t.Run("CaltechXmatchesIncludeArchival", func(t *testing.T) {
		var resp XmatchListResponse

		code := getJSON(t, env, "caltech-user", "/api/events/EP250801a/xmatches", &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("UnknownEventIs404", func(t *testing.T) {
		code := getJSON(t, env, "caltech-user", "/api/events/EP999999z/xmatches", nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("CandidatesForbiddenForExternal", func(t *testing.T) {
		code := getJSON(t, env, "ext-user", "/api/candidates", nil)
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("CandidatesAllowedForPartner", func(t *testing.T) {
		var resp XmatchListResponse

		code := getJSON(t, env, "partner-user", "/api/candidates", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Xmatches, 1)
		assert.Equal(t, int64(1001), resp.Xmatches[0].Candid)
	})

	t.Run("ReprocessForbiddenForPartner", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/admin/reprocess", nil)
		require.NoError(t, err)
		req.SetBasicAuth("partner-user", "integration-pass")

		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("ReprocessFlagsAllEvents", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/admin/reprocess", nil)
		require.NoError(t, err)
		req.SetBasicAuth("caltech-user", "integration-pass")

		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body ReprocessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(2), body.EventsFlagged)
		assert.Equal(t, "accepted", body.Status)

		remaining, _, err := env.store.FetchXmatches(ctx, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}
