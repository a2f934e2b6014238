// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package models

// OccurrenceCode is one entry of the carrier occurrence taxonomy (the SSW
// code set plus any carrier-specific additions). Entries are immutable once
// seeded; each code maps to exactly one canonical status.
type OccurrenceCode struct {
	// Code is the unique external identifier, e.g. "1" or "85".
	Code string `json:"code"`

	// Description is the carrier-supplied human description.
	Description string `json:"description"`

	// Type is the carrier's own classification, kept for reporting
	// (e.g. "informativa", "pendência cliente", "baixa").
	Type string `json:"type"`

	// Process is the carrier's process grouping (e.g. "entrega", "coleta").
	Process string `json:"process"`

	// CanonicalStatus is the platform status this code maps onto.
	CanonicalStatus CanonicalStatus `json:"canonical_status"`

	// Severity classifies the operational impact of the occurrence.
	Severity Severity `json:"severity"`

	// Terminal marks codes that end a shipment's lifecycle (delivered,
	// returned, written off). Authoritative for the state machine.
	Terminal bool `json:"terminal"`
}
