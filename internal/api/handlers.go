package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Theodlz/ep-ztf-xmatch/internal/api/middleware"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

const (
	// Pagination defaults and limits.
	defaultLimit = 20
	maxLimit     = 100
	minLimit     = 1
)

type (
	// listParams holds parsed pagination query parameters.
	listParams struct {
		limit  int
		offset int
	}

	// paramError represents a parameter validation error.
	paramError struct {
		param string
		msg   string
	}
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// requireUser extracts the authenticated user or writes a 401.
// Returns nil after writing the response when no user is present.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *storage.User {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		WriteErrorResponse(w, r, s.logger, NewProblemDetail(
			http.StatusUnauthorized, "Unauthorized", "Authentication required"))

		return nil
	}

	return user
}

// parseListParams parses and validates limit/offset query parameters.
func parseListParams(r *http.Request) (*listParams, error) {
	q := r.URL.Query()

	params := &listParams{
		limit:  defaultLimit,
		offset: 0,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, &paramError{param: "limit", msg: "must be a valid integer"}
		}

		if limit < minLimit || limit > maxLimit {
			return nil, &paramError{param: "limit", msg: "must be between 1 and 100"}
		}

		params.limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, &paramError{param: "offset", msg: "must be a valid integer"}
		}

		if offset < 0 {
			return nil, &paramError{param: "offset", msg: "must be >= 0"}
		}

		params.offset = offset
	}

	return params, nil
}

// writeJSONResponse marshals the payload and writes it with status 200.
func (s *Server) writeJSONResponse(w http.ResponseWriter, r *http.Request, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to marshal response",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
