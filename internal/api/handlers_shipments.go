// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/store"
)

// createShipmentRequest registers a shipment for tracking. Either a tracking
// code or the invoice/document pair must be present.
type createShipmentRequest struct {
	TrackingCode  string `json:"tracking_code"`
	InvoiceNumber string `json:"invoice_number"`
	Document      string `json:"document"`
	Carrier       string `json:"carrier"`
}

// CreateShipment registers a shipment. Events parked for it are replayed
// shortly after.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}

	shipment := models.NewShipment(req.TrackingCode, req.InvoiceNumber, req.Document, req.Carrier)
	if err := h.engine.CreateShipment(r.Context(), shipment); err != nil {
		if strings.Contains(err.Error(), "Constraint Error") {
			rw.Conflict("a shipment with this tracking code already exists")
			return
		}
		rw.ValidationError("shipment rejected", err.Error())
		return
	}
	rw.Created(shipment)
}

// GetShipment returns one shipment with its derived status.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := h.shipmentID(rw, r)
	if !ok {
		return
	}

	shipment, err := h.db.GetShipment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("shipment not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(shipment)
}

// ListShipments returns a page of shipments, newest first.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	limit, offset := h.pagination(r)

	shipments, err := h.db.ListShipments(r.Context(), limit+1, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	hasMore := len(shipments) > limit
	if hasMore {
		shipments = shipments[:limit]
	}
	rw.SuccessWithPagination(shipments, &PaginationMeta{
		Count:   len(shipments),
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// GetTimeline returns the ordered event timeline with the folded effective
// status. The timeline is recomputed from the event history on every call.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := h.shipmentID(rw, r)
	if !ok {
		return
	}

	if _, err := h.db.GetShipment(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("shipment not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	tl, err := h.timeline.Build(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(tl)
}

// ListShipmentEvents returns the raw stored events of a shipment in
// timeline order, including anomalous and unclassified ones.
func (h *Handler) ListShipmentEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := h.shipmentID(rw, r)
	if !ok {
		return
	}

	events, err := h.db.ListEventsByShipment(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]interface{}{"events": events, "count": len(events)})
}

// ListShipmentInvocations returns the automation history for a shipment.
func (h *Handler) ListShipmentInvocations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := h.shipmentID(rw, r)
	if !ok {
		return
	}

	invocations, err := h.db.ListInvocationsByShipment(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]interface{}{"invocations": invocations, "count": len(invocations)})
}

// shipmentID parses the {id} path segment; writes the 400 on failure.
func (h *Handler) shipmentID(rw *ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rw.BadRequest("invalid shipment id")
		return uuid.Nil, false
	}
	return id, true
}
