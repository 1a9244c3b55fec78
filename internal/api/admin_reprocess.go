package api

import (
	"net/http"

	"github.com/Theodlz/ep-ztf-xmatch/internal/api/middleware"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// handleAdminReprocess handles POST /api/admin/reprocess.
// Flags every event for a fresh matching pass and discards all stored
// matches in one transaction. Caltech accounts only.
//
// The matcher picks up the flagged events on its next cycle; running
// this while a cycle is in flight is unsupported by convention.
func (s *Server) handleAdminReprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	if user.Role != storage.RoleCaltech {
		s.logger.WarnContext(ctx, "Reprocess denied",
			"correlation_id", correlationID,
			"username", user.Username,
			"role", user.Role.String(),
		)
		WriteErrorResponse(w, r, s.logger, Forbidden("Reprocess requires caltech access"))

		return
	}

	flagged, err := s.store.ReprocessAllEvents(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to flag events for reprocess",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to flag events for reprocess"))

		return
	}

	s.logger.InfoContext(ctx, "All events flagged for reprocess",
		"correlation_id", correlationID,
		"username", user.Username,
		"events_flagged", flagged,
	)

	s.writeJSONResponse(w, r, ReprocessResponse{
		EventsFlagged: flagged,
		Status:        "accepted",
	})
}
