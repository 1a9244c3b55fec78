package api

import (
	"net/http"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/api/middleware"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// handleGetCandidates handles GET /api/candidates.
// Returns the cross-event match listing, available to partner and
// caltech accounts only.
//
// Query Parameters:
//   - since: ISO8601 timestamp (rows created at or after this time)
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
//
// Response: XmatchListResponse sorted by alert JD DESC.
func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	if user.Role == storage.RoleExternal {
		WriteErrorResponse(w, r, s.logger, Forbidden("Candidates listing requires partner access"))

		return
	}

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter := &matcher.XmatchFilter{}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest(
				(&paramError{param: "since", msg: "must be valid ISO8601 timestamp"}).Error()))

			return
		}

		filter.CreatedAfter = &t
	}

	filter = scopeXmatchFilter(filter, user.Role, s.config.NonAdminDeltaTDays())

	matches, total, err := s.store.FetchXmatches(ctx, filter, &matcher.Pagination{
		Limit:  params.limit,
		Offset: params.offset,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query candidates",
			"correlation_id", correlationID,
			"username", user.Username,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query candidates"))

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
