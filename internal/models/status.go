// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package models defines the core domain entities shared across the engine:
// shipments, tracking events, occurrence codes, and automation rules.
// Cross-entity references are by ID only; no embedded object graphs.
package models

import "strings"

// CanonicalStatus is the platform's unified shipment status vocabulary,
// independent of any carrier's code set.
type CanonicalStatus string

const (
	StatusCreated        CanonicalStatus = "created"
	StatusCollected      CanonicalStatus = "collected"
	StatusInTransit      CanonicalStatus = "in_transit"
	StatusOutForDelivery CanonicalStatus = "out_for_delivery"
	StatusDelivered      CanonicalStatus = "delivered"
	StatusException      CanonicalStatus = "exception"
	StatusReturned       CanonicalStatus = "returned"
	StatusUnclassified   CanonicalStatus = "unclassified"
)

// AllStatuses lists every canonical status in fulfillment order, with the
// non-linear statuses (exception, returned, unclassified) last.
var AllStatuses = []CanonicalStatus{
	StatusCreated,
	StatusCollected,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusException,
	StatusReturned,
	StatusUnclassified,
}

// statusRanks orders the forward fulfillment progression. Statuses outside
// the linear flow have no rank and are handled explicitly by the state
// machine's transition table.
var statusRanks = map[CanonicalStatus]int{
	StatusCreated:        0,
	StatusCollected:      1,
	StatusInTransit:      2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

// Rank returns the position of s in the forward fulfillment order and whether
// s participates in that order at all.
func (s CanonicalStatus) Rank() (int, bool) {
	r, ok := statusRanks[s]
	return r, ok
}

// IsTerminal reports whether s accepts no further authoritative transitions.
// Late events are still recorded for audit after a terminal status.
func (s CanonicalStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned
}

// Valid reports whether s is a known canonical status.
func (s CanonicalStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusCollected, StatusInTransit, StatusOutForDelivery,
		StatusDelivered, StatusException, StatusReturned, StatusUnclassified:
		return true
	}
	return false
}

// ParseStatus converts a string to a CanonicalStatus, tolerating case and
// surrounding whitespace. Returns StatusUnclassified for unknown values.
func ParseStatus(s string) CanonicalStatus {
	status := CanonicalStatus(strings.ToLower(strings.TrimSpace(s)))
	if status.Valid() {
		return status
	}
	return StatusUnclassified
}

// Severity classifies an occurrence code's operational impact.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityException Severity = "exception"
	SeverityTerminal  Severity = "terminal"
)

// Valid reports whether sv is a known severity.
func (sv Severity) Valid() bool {
	switch sv {
	case SeverityInfo, SeverityWarning, SeverityException, SeverityTerminal:
		return true
	}
	return false
}
