package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

const queriesPath = "/api/queries"

// Client errors.
var (
	ErrCatalogStatus = errors.New("catalog returned non-200 status")
	ErrQueryFailed   = errors.New("catalog query did not succeed")
)

// ClientConfig holds the catalog connection settings.
type ClientConfig struct {
	// BaseURL is the catalog root, e.g. "https://kowalski.caltech.edu".
	BaseURL string

	// Token authenticates every query.
	Token string

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// MaxConcurrent caps the batch fan-out.
	MaxConcurrent int
}

// LoadClientConfig reads the catalog settings from the environment.
func LoadClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       config.GetEnvStr("KOWALSKI_URL", "https://kowalski.caltech.edu"),
		Token:         config.GetEnvStr("KOWALSKI_TOKEN", ""),
		Timeout:       config.GetEnvDuration("KOWALSKI_TIMEOUT", 10*time.Second),
		MaxConcurrent: config.GetEnvInt("KOWALSKI_MAX_CONCURRENT", 4),
	}
}

// Client talks to the remote alert catalog.
type Client struct {
	cfg        *ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg *ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// queryResponse is the catalog's per-query envelope. Data maps catalog name
// to query label to alerts.
type queryResponse struct {
	Status  string                        `json:"status"`
	Message string                        `json:"message"`
	Data    map[string]map[string][]Alert `json:"data"`
}

// ConeSearches submits a batch of cone-search queries with bounded fan-out
// and aggregates the responses per event.
//
// At most MaxConcurrent requests are in flight at once. Results and failures
// are keyed by event ID so the caller can mark events individually; a
// failed query never hides another event's alerts, and two versions of one
// event name never consume each other's results.
func (c *Client) ConeSearches(ctx context.Context, queries []ConeSearchQuery) (map[int64][]Alert, map[int64]error) {
	alerts := make(map[int64][]Alert, len(queries))
	failures := make(map[int64]error)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	sem := make(chan struct{}, c.cfg.MaxConcurrent)

	for _, q := range queries {
		wg.Add(1)

		go func(q ConeSearchQuery) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			found, err := c.coneSearch(ctx, q)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failures[q.EventID] = err

				return
			}

			alerts[q.EventID] = found
		}(q)
	}

	wg.Wait()

	return alerts, failures
}

func (c *Client) coneSearch(ctx context.Context, q ConeSearchQuery) ([]Alert, error) {
	body, err := json.Marshal(q.Body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+queriesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrCatalogStatus, resp.StatusCode)
	}

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	if payload.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, payload.Message)
	}

	return payload.Data[AlertCatalog][q.Label], nil
}
