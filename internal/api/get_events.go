package api

import (
	"net/http"

	"github.com/Theodlz/ep-ztf-xmatch/internal/api/middleware"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// handleGetEvents handles GET /api/events.
// Returns a paginated list of events visible to the caller's role.
//
// Query Parameters:
//   - name: restrict to one or more event names (repeatable)
//   - status: restrict to one query status (pending, processing, done, reprocess)
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
//
// Response: EventListResponse with events sorted by obs_start DESC.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter, err := buildEventFilter(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter = scopeEventFilter(filter, user.Role, s.config.NonAdminDeltaTDays())

	events, total, err := s.store.FetchEvents(ctx, filter, &matcher.Pagination{
		Limit:  params.limit,
		Offset: params.offset,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query events",
			"correlation_id", correlationID,
			"username", user.Username,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	summaries := make([]EventSummary, 0, len(events))
	for i := range events {
		summaries = append(summaries, toEventSummary(&events[i]))
	}

	s.writeJSONResponse(w, r, EventListResponse{
		Events: summaries,
		Total:  total,
		Limit:  params.limit,
		Offset: params.offset,
	})
}

// buildEventFilter creates a matcher.EventFilter from query parameters.
func buildEventFilter(r *http.Request) (*matcher.EventFilter, error) {
	q := r.URL.Query()
	filter := &matcher.EventFilter{}

	if names, ok := q["name"]; ok {
		filter.Names = names
	}

	if statusStr := q.Get("status"); statusStr != "" {
		status := ep.Status(statusStr)
		if !status.IsValid() {
			return nil, &paramError{param: "status", msg: "unknown query status"}
		}

		filter.Status = &status
	}

	return filter, nil
}
