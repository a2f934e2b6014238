// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/store"
)

// createRuleRequest defines an automation rule.
type createRuleRequest struct {
	Name            string                   `json:"name"`
	TriggerStatuses []models.CanonicalStatus `json:"trigger_statuses"`
	Conditions      []models.Condition       `json:"conditions,omitempty"`
	Actions         []models.Action          `json:"actions"`
	Enabled         *bool                    `json:"enabled,omitempty"`
}

// CreateRule registers an automation rule. New rules default to enabled.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}

	rule := &models.AutomationRule{
		ID:              uuid.New(),
		Name:            req.Name,
		TriggerStatuses: req.TriggerStatuses,
		Conditions:      req.Conditions,
		Actions:         req.Actions,
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		rw.ValidationError("invalid automation rule", err.Error())
		return
	}
	if err := h.db.CreateRule(r.Context(), rule); err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Created(rule)
}

// ListRules returns all automation rules, enabled or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rules, err := h.db.ListRules(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]interface{}{"rules": rules, "count": len(rules)})
}

// GetRule returns one automation rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rw.BadRequest("invalid rule id")
		return
	}

	rule, err := h.db.GetRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("rule not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(rule)
}

// SetRuleEnabled toggles a rule. Disabled rules stop firing immediately;
// their invocation history stays intact.
func (h *Handler) SetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rw.BadRequest("invalid rule id")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}

	if err := h.db.SetRuleEnabled(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("rule not found")
			return
		}
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]interface{}{"id": id, "enabled": req.Enabled})
}
