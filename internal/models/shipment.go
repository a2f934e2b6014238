// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package models

import (
	"time"

	"github.com/google/uuid"
)

// Shipment is the tracked package. The mutable status fields are owned
// exclusively by the state machine; ingestion never writes them directly.
type Shipment struct {
	ID uuid.UUID `json:"id"`

	// TrackingCode is the carrier tracking code, unique when present.
	TrackingCode string `json:"tracking_code,omitempty"`

	// InvoiceNumber and Document identify the shipment when the carrier
	// reports by fiscal document instead of tracking code.
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Document      string `json:"document,omitempty"`

	// Carrier identifies the carrier responsible for the shipment.
	Carrier string `json:"carrier"`

	// CurrentStatus is derived from the event history by the state machine.
	CurrentStatus CanonicalStatus `json:"current_status"`

	// CurrentStatusVersion increments on every applied transition. It is the
	// optimistic-concurrency token and the automation idempotency key.
	CurrentStatusVersion int64 `json:"current_status_version"`

	// LastEventID references the event whose transition was last applied.
	LastEventID *uuid.UUID `json:"last_event_id,omitempty"`

	// LastEventAt is the occurred_at of the last applied event, used by the
	// state machine to detect chronologically late arrivals.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewShipment creates a shipment in the initial state.
func NewShipment(trackingCode, invoiceNumber, document, carrier string) *Shipment {
	now := time.Now().UTC()
	return &Shipment{
		ID:                   uuid.New(),
		TrackingCode:         trackingCode,
		InvoiceNumber:        invoiceNumber,
		Document:             document,
		Carrier:              carrier,
		CurrentStatus:        StatusCreated,
		CurrentStatusVersion: 0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
