// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package api

import (
	"net/http"
)

// ReviewEvents lists accepted events tagged for manual review, newest first.
// These carry occurrence codes absent from the registry.
func (h *Handler) ReviewEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	limit, offset := h.pagination(r)

	events, err := h.db.ListEventsNeedingReview(r.Context(), limit+1, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	rw.SuccessWithPagination(events, &PaginationMeta{
		Count:   len(events),
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// ReviewPending lists unresolved events that aged out of the replay window
// and now need a human to register or correct the shipment.
func (h *Handler) ReviewPending(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	limit, offset := h.pagination(r)

	pending, err := h.db.ListManualReviewPending(r.Context(), limit+1, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	hasMore := len(pending) > limit
	if hasMore {
		pending = pending[:limit]
	}
	rw.SuccessWithPagination(pending, &PaginationMeta{
		Count:   len(pending),
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}
