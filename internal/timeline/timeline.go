// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package timeline builds the ordered, read-only event projection for a
// shipment. The projection is recomputed from stored events on every request,
// so it is restartable by construction and never drifts from the store.
package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// EventLister is the slice of the store the builder needs.
type EventLister interface {
	ListEventsByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*models.TrackingEvent, error)
}

// Entry is one rendered timeline position.
type Entry struct {
	EventID         uuid.UUID              `json:"event_id"`
	OccurrenceCode  string                 `json:"occurrence_code"`
	CanonicalStatus models.CanonicalStatus `json:"canonical_status"`
	Description     string                 `json:"description,omitempty"`
	Location        string                 `json:"location,omitempty"`
	Source          string                 `json:"source"`

	OccurredAt          time.Time `json:"occurred_at"`
	ReceivedAt          time.Time `json:"received_at"`
	OccurredAtEstimated bool      `json:"occurred_at_estimated,omitempty"`

	// Anomaly entries are part of the history but never changed the
	// shipment status (regressions, post-terminal arrivals).
	Anomaly     bool `json:"anomaly,omitempty"`
	NeedsReview bool `json:"needs_review,omitempty"`
}

// Timeline is the full ordered projection of one shipment.
type Timeline struct {
	ShipmentID uuid.UUID `json:"shipment_id"`
	Entries    []Entry   `json:"entries"`

	// EffectiveStatus is the status the ordered, non-anomalous history
	// arrives at. It matches the shipment's current status unless events
	// were ingested while this projection was being read.
	EffectiveStatus models.CanonicalStatus `json:"effective_status"`
}

// Builder renders timelines from stored events.
type Builder struct {
	events EventLister
}

// NewBuilder creates a timeline builder over the given event source.
func NewBuilder(events EventLister) *Builder {
	return &Builder{events: events}
}

// Build returns the ordered timeline for a shipment. Ordering is done by the
// store: occurred_at, then received_at, then id, so equal carrier timestamps
// resolve deterministically. An empty timeline is valid for a shipment with
// no events yet.
func (b *Builder) Build(ctx context.Context, shipmentID uuid.UUID) (*Timeline, error) {
	events, err := b.events.ListEventsByShipment(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}

	tl := &Timeline{
		ShipmentID:      shipmentID,
		Entries:         make([]Entry, 0, len(events)),
		EffectiveStatus: models.StatusCreated,
	}

	for _, event := range events {
		tl.Entries = append(tl.Entries, Entry{
			EventID:             event.ID,
			OccurrenceCode:      event.OccurrenceCode,
			CanonicalStatus:     event.CanonicalStatus,
			Description:         event.Description,
			Location:            event.Location,
			Source:              event.Source,
			OccurredAt:          event.OccurredAt,
			ReceivedAt:          event.ReceivedAt,
			OccurredAtEstimated: event.OccurredAtEstimated,
			Anomaly:             event.Anomaly,
			NeedsReview:         event.NeedsReview,
		})
		// Unclassified events never move a shipment's status, so they do
		// not move the effective status either.
		if !event.Anomaly && event.CanonicalStatus != models.StatusUnclassified {
			tl.EffectiveStatus = event.CanonicalStatus
		}
	}

	return tl, nil
}
