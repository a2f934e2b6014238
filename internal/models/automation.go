// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionKind is the closed set of automation action variants. The dispatcher
// handles these with an exhaustive switch; adding a kind means touching the
// executor, which is intentional.
type ActionKind string

const (
	ActionNotify  ActionKind = "notify"
	ActionWebhook ActionKind = "webhook"
)

// Action is one step of an automation rule. Steps run in declared order;
// a failed step does not block later independent steps.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Target is the notification channel or webhook URL, per Kind.
	Target string `json:"target"`

	// Template is an optional message template for notify actions.
	Template string `json:"template,omitempty"`
}

// Validate checks the action variant and target.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionNotify, ActionWebhook:
	default:
		return fmt.Errorf("automation action: unknown kind %q", a.Kind)
	}
	if a.Target == "" {
		return fmt.Errorf("automation action: target is required")
	}
	return nil
}

// ConditionOp compares a shipment attribute against a rule value.
type ConditionOp string

const (
	OpEquals    ConditionOp = "eq"
	OpNotEquals ConditionOp = "neq"
	OpContains  ConditionOp = "contains"
)

// Condition is a single predicate over shipment attributes. All conditions
// of a rule must hold for the rule to fire.
type Condition struct {
	// Field names a shipment attribute: carrier, tracking_code, document.
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value string      `json:"value"`
}

// Matches evaluates the condition against a shipment.
func (c Condition) Matches(s *Shipment) bool {
	var attr string
	switch c.Field {
	case "carrier":
		attr = s.Carrier
	case "tracking_code":
		attr = s.TrackingCode
	case "invoice_number":
		attr = s.InvoiceNumber
	case "document":
		attr = s.Document
	default:
		return false
	}

	switch c.Op {
	case OpEquals:
		return strings.EqualFold(attr, c.Value)
	case OpNotEquals:
		return !strings.EqualFold(attr, c.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(attr), strings.ToLower(c.Value))
	default:
		return false
	}
}

// AutomationRule fires actions when a shipment transitions into one of its
// trigger statuses. Rules are read-mostly; the dispatcher never mutates them.
type AutomationRule struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// TriggerStatuses is the set of canonical statuses that activate the rule.
	TriggerStatuses []CanonicalStatus `json:"trigger_statuses"`

	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Triggers reports whether the rule is activated by the given status.
func (r *AutomationRule) Triggers(status CanonicalStatus) bool {
	for _, s := range r.TriggerStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ConditionsHold evaluates all rule conditions against the shipment.
func (r *AutomationRule) ConditionsHold(s *Shipment) bool {
	for _, c := range r.Conditions {
		if !c.Matches(s) {
			return false
		}
	}
	return true
}

// Validate checks rule invariants before persistence.
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("automation rule: name is required")
	}
	if len(r.TriggerStatuses) == 0 {
		return fmt.Errorf("automation rule: at least one trigger status is required")
	}
	for _, s := range r.TriggerStatuses {
		if !s.Valid() {
			return fmt.Errorf("automation rule: invalid trigger status %q", s)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("automation rule: at least one action is required")
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("automation rule: action %d: %w", i, err)
		}
	}
	return nil
}

// AutomationInvocation is the claim record preventing duplicate execution of
// a rule for a given transition. At most one row exists per
// (shipment_id, rule_id, status_version); the unique-key insert is the
// idempotency contract.
type AutomationInvocation struct {
	ID            uuid.UUID `json:"id"`
	ShipmentID    uuid.UUID `json:"shipment_id"`
	RuleID        uuid.UUID `json:"rule_id"`
	StatusVersion int64     `json:"status_version"`

	DispatchedAt time.Time `json:"dispatched_at"`

	// CompletedAt is set only after every action of the rule succeeded.
	// A crash mid-dispatch leaves it null and the whole rule is retried.
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// TransitionContext is handed to automation actions describing the applied
// status transition.
type TransitionContext struct {
	ShipmentID    uuid.UUID       `json:"shipment_id"`
	TrackingCode  string          `json:"tracking_code,omitempty"`
	Carrier       string          `json:"carrier"`
	OldStatus     CanonicalStatus `json:"old_status"`
	NewStatus     CanonicalStatus `json:"new_status"`
	StatusVersion int64           `json:"status_version"`
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
