// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
handlers.go - Ingestion and Health Handlers

Carrier events arrive as POST bodies under a source path segment; the verbatim
body is carried through the pipeline so the archive and the replay queue keep
exactly what the carrier sent. Unresolvable shipments answer 202 with a
queued outcome rather than an error.
*/

//nolint:staticcheck // File documentation, not package doc
package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/engine"
	"github.com/mfvianna/shiptrace/internal/normalizer"
	"github.com/mfvianna/shiptrace/internal/registry"
	"github.com/mfvianna/shiptrace/internal/store"
	"github.com/mfvianna/shiptrace/internal/timeline"
)

// maxBodyBytes caps inbound payloads. Carrier webhooks are small; anything
// near 1MB is malformed or hostile.
const maxBodyBytes = 1 << 20

// Handler serves all tracking endpoints.
type Handler struct {
	engine   *engine.Engine
	db       *store.DB
	timeline *timeline.Builder
	codes    *registry.Registry
	cfg      *config.APIConfig
}

// NewHandler wires the handler over the pipeline and query surfaces.
func NewHandler(e *engine.Engine, db *store.DB, tb *timeline.Builder,
	codes *registry.Registry, cfg *config.APIConfig) *Handler {
	return &Handler{engine: e, db: db, timeline: tb, codes: codes, cfg: cfg}
}

// Health reports liveness plus a store ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.db.Ping(r.Context()); err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeDatabaseError, "store unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// HealthLive always answers 200 while the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// IngestEvent accepts one carrier event for the {source} integration.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}

	var raw normalizer.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}

	result, err := h.engine.IngestRaw(r.Context(), &raw, source, body)
	if err != nil {
		rw.ValidationError("event rejected", err.Error())
		return
	}

	switch result.Outcome {
	case engine.IngestQueued:
		// The shipment is unknown; the event is parked, not lost.
		rw.writeJSON(http.StatusAccepted, APIResponse{Success: true, Data: result})
	case engine.IngestAccepted:
		rw.Created(result)
	default:
		rw.Success(result)
	}
}

// IngestBatch accepts a JSON array of carrier events for {source}. Items
// fail independently; the response reports each outcome in order.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}

	var raws []*normalizer.RawEvent
	if err := json.Unmarshal(body, &raws); err != nil {
		rw.BadRequest("invalid JSON payload, expected an array of events")
		return
	}
	if len(raws) == 0 {
		rw.BadRequest("empty batch")
		return
	}

	// Re-encode each item so every pipeline stage sees its own payload.
	payloads := make([][]byte, len(raws))
	for i, raw := range raws {
		encoded, err := json.Marshal(raw)
		if err != nil {
			rw.InternalError("failed to encode batch item")
			return
		}
		payloads[i] = encoded
	}

	items := h.engine.IngestBatch(r.Context(), raws, source, payloads)
	rw.Success(map[string]interface{}{"items": items})
}

// OccurrenceCodes returns the active occurrence code taxonomy.
func (h *Handler) OccurrenceCodes(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	codes, err := h.db.ListOccurrenceCodes(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]interface{}{"codes": codes, "count": len(codes)})
}

// pagination reads limit/offset query params, bounded by the configured
// page sizes.
func (h *Handler) pagination(r *http.Request) (limit, offset int) {
	limit = h.cfg.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > h.cfg.MaxPageSize {
		limit = h.cfg.MaxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
