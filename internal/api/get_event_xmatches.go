package api

import (
	"net/http"

	"github.com/Theodlz/ep-ztf-xmatch/internal/api/middleware"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// handleGetEventXmatches handles GET /api/events/{name}/xmatches.
// Returns the cross-matches of one event, scoped to the caller's role.
// Non-caltech accounts see only non-archival matches within the
// configured delta-t window, against the latest event version.
//
// Query Parameters:
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
//
// Response: XmatchListResponse sorted by alert JD DESC.
func (s *Server) handleGetEventXmatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	name := r.PathValue("name")
	if name == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event name is required"))

		return
	}

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	// Resolve the event name to ids the role may see. Roles below
	// caltech resolve only the latest version.
	eventFilter := scopeEventFilter(
		&matcher.EventFilter{Names: []string{name}},
		user.Role,
		s.config.NonAdminDeltaTDays(),
	)

	events, _, err := s.store.FetchEvents(ctx, eventFilter, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve event",
			"correlation_id", correlationID,
			"event_name", name,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to resolve event"))

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("Event not found"))

		return
	}

	eventIDs := make([]int64, 0, len(events))
	for i := range events {
		eventIDs = append(eventIDs, events[i].ID)
	}

	filter := scopeXmatchFilter(
		&matcher.XmatchFilter{EventIDs: eventIDs},
		user.Role,
		s.config.NonAdminDeltaTDays(),
	)

	matches, total, err := s.store.FetchXmatches(ctx, filter, &matcher.Pagination{
		Limit:  params.limit,
		Offset: params.offset,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query xmatches",
			"correlation_id", correlationID,
			"event_name", name,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query xmatches"))

		return
	}

	summaries := make([]XmatchSummary, 0, len(matches))
	for i := range matches {
		summaries = append(summaries, toXmatchSummary(&matches[i]))
	}

	s.writeJSONResponse(w, r, XmatchListResponse{
		Xmatches: summaries,
		Total:    total,
		Limit:    params.limit,
		Offset:   params.offset,
	})
}
