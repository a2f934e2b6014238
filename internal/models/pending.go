// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingState is the lifecycle state of a queued unresolved event.
type PendingState string

const (
	// PendingStateQueued events are retried by the replay loop until the
	// configured window expires.
	PendingStateQueued PendingState = "queued"

	// PendingStateManualReview events are out of the replay loop: either
	// aged past the window or never replayable (unparseable payload).
	// They stay queryable forever and are never deleted automatically.
	PendingStateManualReview PendingState = "manual_review"
)

// PendingEvent is a raw carrier event whose shipment could not be resolved
// at ingestion time. The original payload is kept verbatim so the replay
// loop can re-run the full normalization once the shipment exists.
type PendingEvent struct {
	ID uuid.UUID `json:"id"`

	// Shipment identity hints extracted from the raw payload. At least one
	// of TrackingCode or the (InvoiceNumber, Document) pair is set.
	TrackingCode  string `json:"tracking_code,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Document      string `json:"document,omitempty"`

	Carrier string `json:"carrier,omitempty"`
	Source  string `json:"source"`

	RawPayload []byte `json:"raw_payload,omitempty"`

	FirstSeenAt time.Time    `json:"first_seen_at"`
	Attempts    int          `json:"attempts"`
	State       PendingState `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
}
