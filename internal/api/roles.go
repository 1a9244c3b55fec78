package api

import (
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// Role-based visibility is expressed as filter predicates layered on
// top of whatever the request asked for, never as a separate schema.
//
// Accounts below the caltech role see only the latest version of each
// event, only events with at least one qualifying prompt match, and
// only non-archival matches within the configured delta-t window.

// scopeEventFilter narrows an event filter to what the role may see.
func scopeEventFilter(filter *matcher.EventFilter, role storage.Role, deltaTDays float64) *matcher.EventFilter {
	if filter == nil {
		filter = &matcher.EventFilter{}
	}

	if role == storage.RoleCaltech {
		return filter
	}

	maxDT := deltaTDays
	filter.LatestOnly = true
	filter.HasMatches = &matcher.HasMatchesFilter{
		IgnoreArchival: true,
		MaxDeltaT:      &maxDT,
	}

	return filter
}

// scopeXmatchFilter narrows a cross-match filter to what the role may see.
func scopeXmatchFilter(filter *matcher.XmatchFilter, role storage.Role, deltaTDays float64) *matcher.XmatchFilter {
	if filter == nil {
		filter = &matcher.XmatchFilter{}
	}

	if role == storage.RoleCaltech {
		return filter
	}

	archival := false
	minDT := -deltaTDays
	maxDT := deltaTDays

	filter.Archival = &archival
	filter.MinDeltaT = &minDT
	filter.MaxDeltaT = &maxDT
	filter.DeduplicateByEventName = true

	return filter
}
