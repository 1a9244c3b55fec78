package ep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

const (
	tokenPath      = "/api/get_tokenp"
	candidatesPath = "/data_center/api/unverified_candidates"

	// tokenHeader is the auth header the data center expects. The same token
	// also travels as a query parameter; the upstream checks both.
	tokenHeader = "tdic-token"

	maxFetchRetries = 3
)

// Client errors.
var (
	ErrUpstreamStatus = errors.New("upstream returned non-200 status")
	ErrEmptyToken     = errors.New("upstream returned an empty token")
)

// ClientConfig holds the upstream connection settings.
type ClientConfig struct {
	// BaseURL is the data center root, e.g. "https://ep.example.org".
	BaseURL string

	// Email and Password are the credentials exchanged for a short-lived
	// token each cycle. The token is held in memory only.
	Email    string
	Password string

	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

// LoadClientConfig reads the upstream settings from the environment.
func LoadClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:  config.GetEnvStr("EP_BASE_URL", ""),
		Email:    config.GetEnvStr("EP_EMAIL", ""),
		Password: config.GetEnvStr("EP_PASSWORD", ""),
		Timeout:  config.GetEnvDuration("EP_HTTP_TIMEOUT", 10*time.Second),
	}
}

// Client talks to the Einstein Probe data center.
type Client struct {
	cfg        *ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an upstream client.
func NewClient(cfg *ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchToken exchanges the configured credentials for a session token.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d from %s", ErrUpstreamStatus, resp.StatusCode, tokenPath)
	}

	var payload struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	if payload.Token == "" {
		return "", ErrEmptyToken
	}

	return payload.Token, nil
}

// FetchCandidates pulls the current unverified candidates and validates them
// against the column allow-list.
//
// Network and HTTP failures are retried with capped exponential backoff
// within the call; after maxFetchRetries the error surfaces and the caller
// waits for the next cycle. Validation failures are never retried.
func (c *Client) FetchCandidates(ctx context.Context, token string) ([]Event, error) {
	var payload []byte

	operation := func() error {
		var err error

		payload, err = c.fetchCandidatesOnce(ctx, token)
		if err != nil {
			c.logger.Warn("upstream fetch failed, will retry", slog.String("error", err.Error()))
		}

		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchRetries),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	return ParseCandidates(payload)
}

func (c *Client) fetchCandidatesOnce(ctx context.Context, token string) ([]byte, error) {
	endpoint := c.cfg.BaseURL + candidatesPath + "?token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build candidates request: %w", err))
	}

	req.Header.Set(tokenHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", ErrUpstreamStatus, resp.StatusCode, candidatesPath)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return payload, nil
}
