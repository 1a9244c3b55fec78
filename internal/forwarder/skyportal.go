// Package forwarder ships stored cross-matches to a SkyPortal instance:
// candidate posting, alert import, and per-source annotation upkeep.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/astro"
	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// jdToISOT renders a Julian Date in the broker's passed_at format.
func jdToISOT(jd float64) string {
	return astro.JDToTime(jd).UTC().Format("2006-01-02T15:04:05.000")
}

const (
	// duplicateCandidateMarker appears in the API error message when the
	// candidate row already exists. That response counts as success.
	duplicateCandidateMarker = `duplicate key value violates unique constraint "candidates_main_index"`

	rateLimitWait   = 1 * time.Second
	unavailableWait = 30 * time.Second

	// maxTransientRetries bounds the 429/503/timeout wait loop.
	maxTransientRetries = 10
)

var (
	// ErrBrokerStatus indicates an unexpected HTTP status from SkyPortal.
	ErrBrokerStatus = errors.New("unexpected broker status")

	// ErrFilterNotFound indicates the configured filter id is absent.
	ErrFilterNotFound = errors.New("filter not found on broker")
)

// SkyPortalConfig holds broker connection settings.
type SkyPortalConfig struct {
	Host          string
	Token         string
	FilterID      int64
	ImportGroupID int64
	Timeout       time.Duration
}

// LoadSkyPortalConfig reads broker settings from the environment.
func LoadSkyPortalConfig() *SkyPortalConfig {
	return &SkyPortalConfig{
		Host:          config.GetEnvStr("FRITZ_HOST", ""),
		Token:         config.GetEnvStr("FRITZ_TOKEN", ""),
		FilterID:      config.GetEnvInt64("FRITZ_FILTER_ID", 0),
		ImportGroupID: config.GetEnvInt64("FRITZ_IMPORT_GROUP_ID", 0),
		Timeout:       config.GetEnvDuration("FRITZ_HTTP_TIMEOUT", 10*time.Second),
	}
}

// Validate checks the required broker settings are present.
func (c *SkyPortalConfig) Validate() error {
	if c.Host == "" {
		return errors.New("FRITZ_HOST is required")
	}

	if c.Token == "" {
		return errors.New("FRITZ_TOKEN is required")
	}

	if c.FilterID == 0 {
		return errors.New("FRITZ_FILTER_ID is required")
	}

	if c.ImportGroupID == 0 {
		return errors.New("FRITZ_IMPORT_GROUP_ID is required")
	}

	return nil
}

// SkyPortal is the broker API client. Call Bootstrap before use so the
// filter's group id is known.
type SkyPortal struct {
	cfg     *SkyPortalConfig
	client  *http.Client
	logger  *slog.Logger
	groupID int64
}

// NewSkyPortal creates a broker client.
func NewSkyPortal(cfg *SkyPortalConfig) *SkyPortal {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "forwarder"))

	return &SkyPortal{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do issues one API call, waiting out rate limits and brief outages.
// 429 waits one second, 503 and timeouts wait thirty, with a bounded
// number of attempts.
func (s *SkyPortal) do(ctx context.Context, method, path string, payload interface{}) (int, *apiResponse, error) {
	var body []byte

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}

		body = encoded
	}

	url := strings.TrimSuffix(s.cfg.Host, "/") + "/api/" + path

	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, nil, fmt.Errorf("building request: %w", err)
		}

		req.Header.Set("Authorization", "token "+s.cfg.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}

			s.logger.WarnContext(ctx, "broker request failed, waiting",
				slog.String("path", path), slog.String("error", err.Error()))

			if err := sleepCtx(ctx, unavailableWait); err != nil {
				return 0, nil, err
			}

			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			s.logger.WarnContext(ctx, "broker rate limit hit, waiting", slog.String("path", path))

			if err := sleepCtx(ctx, rateLimitWait); err != nil {
				return 0, nil, err
			}

			continue
		case http.StatusServiceUnavailable:
			s.logger.WarnContext(ctx, "broker unavailable, waiting", slog.String("path", path))

			if err := sleepCtx(ctx, unavailableWait); err != nil {
				return 0, nil, err
			}

			continue
		}

		if readErr != nil {
			return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", readErr)
		}

		parsed := &apiResponse{}
		if err := json.Unmarshal(raw, parsed); err != nil {
			// Some error pages are not JSON; keep going with the status.
			parsed = &apiResponse{Message: string(raw)}
		}

		return resp.StatusCode, parsed, nil
	}

	return 0, nil, fmt.Errorf("%w: gave up after %d transient failures on %s", ErrBrokerStatus, maxTransientRetries, path)
}

// Bootstrap resolves the configured filter's group id.
func (s *SkyPortal) Bootstrap(ctx context.Context) error {
	status, resp, err := s.do(ctx, http.MethodGet, "filters", nil)
	if err != nil {
		return fmt.Errorf("fetching filters: %w", err)
	}

	if status != http.StatusOK {
		return fmt.Errorf("%w: fetching filters returned %d", ErrBrokerStatus, status)
	}

	var filters []struct {
		ID      int64 `json:"id"`
		GroupID int64 `json:"group_id"`
	}

	if err := json.Unmarshal(resp.Data, &filters); err != nil {
		return fmt.Errorf("decoding filters: %w", err)
	}

	for _, f := range filters {
		if f.ID == s.cfg.FilterID {
			s.groupID = f.GroupID
			s.logger.InfoContext(ctx, "broker filter resolved",
				slog.Int64("filter_id", f.ID), slog.Int64("group_id", f.GroupID))

			return nil
		}
	}

	return fmt.Errorf("%w: id %d", ErrFilterNotFound, s.cfg.FilterID)
}

// PostCandidate posts one match as a broker candidate. duplicate is
// true when the candidate row already existed upstream; both outcomes
// are success.
func (s *SkyPortal) PostCandidate(ctx context.Context, xm *matcher.Xmatch) (duplicate bool, err error) {
	payload := map[string]interface{}{
		"id":               xm.ObjectID,
		"ra":               xm.RA,
		"dec":              xm.Dec,
		"score":            xm.DRB,
		"filter_ids":       []int64{s.cfg.FilterID},
		"passing_alert_id": xm.Candid,
		"passed_at":        jdToISOT(xm.JD),
		"origin":           AnnotationOrigin,
	}

	status, resp, err := s.do(ctx, http.MethodPost, "candidates", payload)
	if err != nil {
		return false, err
	}

	if status == http.StatusOK {
		return false, nil
	}

	if resp != nil && strings.Contains(resp.Message, duplicateCandidateMarker) {
		s.logger.DebugContext(ctx, "candidate already posted", slog.String("object_id", xm.ObjectID))

		return true, nil
	}

	return false, fmt.Errorf("%w: posting candidate %s returned %d: %s", ErrBrokerStatus, xm.ObjectID, status, resp.Message)
}

// ImportAlert asks the broker to pull the object's photometry and
// cutouts from the alert archive.
func (s *SkyPortal) ImportAlert(ctx context.Context, xm *matcher.Xmatch) error {
	payload := map[string]interface{}{
		"candid":    xm.Candid,
		"group_ids": []int64{s.cfg.ImportGroupID},
	}

	status, resp, err := s.do(ctx, http.MethodPost, "alerts/"+xm.ObjectID, payload)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return fmt.Errorf("%w: importing %s returned %d: %s", ErrBrokerStatus, xm.ObjectID, status, resp.Message)
	}

	return nil
}

// UpsertAnnotation merges one event's record into the source's
// pipeline-owned annotation: POST when absent, PUT preserving the
// original author when present.
func (s *SkyPortal) UpsertAnnotation(ctx context.Context, objectID string, rec AnnotationRecord) error {
	existing, err := s.fetchAnnotation(ctx, objectID)
	if err != nil {
		return err
	}

	if existing == nil {
		payload := map[string]interface{}{
			"obj_id":    objectID,
			"origin":    AnnotationOrigin,
			"data":      EncodeAnnotationData([]AnnotationRecord{rec}),
			"group_ids": []int64{s.groupID},
		}

		status, resp, err := s.do(ctx, http.MethodPost, "sources/"+objectID+"/annotations", payload)
		if err != nil {
			return err
		}

		if status != http.StatusOK {
			return fmt.Errorf("%w: posting annotation for %s returned %d: %s", ErrBrokerStatus, objectID, status, resp.Message)
		}

		return nil
	}

	merged := MergeRecord(existing.Data.Records(), rec)

	payload := map[string]interface{}{
		"obj_id":    objectID,
		"origin":    AnnotationOrigin,
		"data":      EncodeAnnotationData(merged),
		"group_ids": []int64{s.groupID},
		"author_id": existing.AuthorID,
	}

	status, resp, err := s.do(ctx, http.MethodPut,
		fmt.Sprintf("sources/%s/annotations/%d", objectID, existing.ID), payload)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return fmt.Errorf("%w: updating annotation for %s returned %d: %s", ErrBrokerStatus, objectID, status, resp.Message)
	}

	return nil
}

// fetchAnnotation returns the pipeline-owned annotation for a source,
// or nil when the source has none.
func (s *SkyPortal) fetchAnnotation(ctx context.Context, objectID string) (*Annotation, error) {
	status, resp, err := s.do(ctx, http.MethodGet, "sources/"+objectID+"/annotations", nil)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching annotations for %s returned %d: %s", ErrBrokerStatus, objectID, status, resp.Message)
	}

	var annotations []Annotation
	if err := json.Unmarshal(resp.Data, &annotations); err != nil {
		return nil, fmt.Errorf("decoding annotations: %w", err)
	}

	for i := range annotations {
		if annotations[i].Origin == AnnotationOrigin {
			return &annotations[i], nil
		}
	}

	return nil, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
