// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrackingEvent is a normalized carrier occurrence for one shipment.
// Rows are immutable once persisted; the dedup key is unique across the
// whole event table, which is what makes re-delivered webhooks idempotent.
type TrackingEvent struct {
	ID         uuid.UUID `json:"id"`
	ShipmentID uuid.UUID `json:"shipment_id"`

	// OccurrenceCode is the carrier code as delivered. It may be absent from
	// the registry, in which case CanonicalStatus is StatusUnclassified and
	// NeedsReview is set.
	OccurrenceCode  string          `json:"occurrence_code"`
	CanonicalStatus CanonicalStatus `json:"canonical_status"`

	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	// Source identifies the carrier integration that delivered the event.
	Source string `json:"source"`

	// OccurredAt is the carrier-reported time; ReceivedAt is ingestion time.
	// When the carrier supplies no timestamp, OccurredAt is set to ReceivedAt
	// and OccurredAtEstimated is flagged.
	OccurredAt          time.Time `json:"occurred_at"`
	ReceivedAt          time.Time `json:"received_at"`
	OccurredAtEstimated bool      `json:"occurred_at_estimated,omitempty"`

	// DedupKey is the deterministic fingerprint used to detect re-delivery.
	DedupKey string `json:"dedup_key"`

	// RawPayload is the original carrier payload, kept verbatim for the
	// archival sink and manual review.
	RawPayload []byte `json:"raw_payload,omitempty"`

	// NeedsReview marks events whose occurrence code is not in the registry.
	NeedsReview bool `json:"needs_review,omitempty"`

	// Anomaly marks events recorded in the timeline but not applied to the
	// shipment status (regressions, post-terminal arrivals).
	Anomaly bool `json:"anomaly,omitempty"`
}

// Validate checks the invariants required before persisting an event.
func (e *TrackingEvent) Validate() error {
	if e.ShipmentID == uuid.Nil {
		return fmt.Errorf("tracking event: shipment id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("tracking event: source is required")
	}
	if e.DedupKey == "" {
		return fmt.Errorf("tracking event: dedup key is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("tracking event: occurred_at is required")
	}
	if !e.CanonicalStatus.Valid() {
		return fmt.Errorf("tracking event: invalid canonical status %q", e.CanonicalStatus)
	}
	return nil
}

// DedupKeyFor derives the deterministic dedup key for an event. When the
// carrier supplies its own event ID, that wins; otherwise the key is a hash
// of (shipment, source, code, occurred_at), so a retried webhook with the
// same content always collides. Callers with no carrier timestamp must use
// ContentDedupKeyFor instead: the occurred_at fallback is the ingestion
// clock and would differ on every retry.
func DedupKeyFor(shipmentID uuid.UUID, source, occurrenceCode string, occurredAt time.Time, carrierEventID string) string {
	if carrierEventID != "" {
		return source + ":" + carrierEventID
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		shipmentID, source, occurrenceCode, occurredAt.UTC().UnixNano())))
	return hex.EncodeToString(h[:])
}

// ContentDedupKeyFor fingerprints an event whose carrier supplied neither an
// event ID nor a timestamp. The key hashes the stable payload content, so a
// retried webhook collides even though each delivery gets a fresh ingestion
// time. The trade-off is deliberate: two genuinely distinct deliveries with
// byte-identical content and no distinguishing carrier data collapse into
// one stored event.
func ContentDedupKeyFor(shipmentID uuid.UUID, source, occurrenceCode, statusText, description, location string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		shipmentID, source, occurrenceCode, statusText, description, location)))
	return hex.EncodeToString(h[:])
}
