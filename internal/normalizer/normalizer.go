// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
normalizer.go - Event Normalizer

Turns raw carrier payloads into canonical tracking events:

  - Shipment identity resolves by tracking code first, then by the
    (invoice_number, document) pair. An unresolvable shipment is the only
    rejection path; callers queue the raw event for replay.
  - Occurrence codes resolve against the registry. Unknown codes are never
    dropped: the event is accepted as unclassified and tagged for manual
    review. When the carrier sends no code at all, the free-text status
    string is folded to a canonical status (statusFromText).
  - occurred_at falls back to the ingestion time with an estimated flag when
    the carrier supplies no timestamp; those events dedup-key on payload
    content instead of the timestamp so retries still collide.
*/

//nolint:staticcheck // File documentation, not package doc
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/registry"
	"github.com/mfvianna/shiptrace/internal/store"
)

// ErrUnresolvedShipment means no shipment matched the payload's identity
// hints. The event is not lost; the caller queues it for replay.
var ErrUnresolvedShipment = errors.New("shipment could not be resolved")

// RawEvent is the carrier-agnostic inbound payload. Carriers deliver either
// a tracking code or a fiscal (invoice_number, document) pair.
type RawEvent struct {
	TrackingCode  string `json:"tracking_code" validate:"required_without=InvoiceNumber"`
	InvoiceNumber string `json:"invoice_number" validate:"required_without=TrackingCode,required_with=Document"`
	Document      string `json:"document" validate:"required_with=InvoiceNumber"`
	Carrier       string `json:"carrier"`

	// CarrierEventID, when present, becomes the dedup key directly.
	CarrierEventID string `json:"carrier_event_id"`

	OccurrenceCode string `json:"occurrence_code"`

	// Status is the carrier's free-text status, used as a classification
	// fallback when no occurrence code is supplied.
	Status string `json:"status"`

	Description string     `json:"description"`
	Location    string     `json:"location"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

// ShipmentResolver is the slice of the store the normalizer needs.
type ShipmentResolver interface {
	FindShipmentByTrackingCode(ctx context.Context, trackingCode string) (*models.Shipment, error)
	FindShipmentByInvoiceDocument(ctx context.Context, invoiceNumber, document string) (*models.Shipment, error)
}

// Normalizer resolves raw payloads into canonical events.
type Normalizer struct {
	codes     *registry.Registry
	shipments ShipmentResolver
	validate  *validator.Validate
}

// New creates a normalizer over the given registry and shipment source.
func New(codes *registry.Registry, shipments ShipmentResolver) *Normalizer {
	return &Normalizer{
		codes:     codes,
		shipments: shipments,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Normalize produces a canonical event ready for ingestion. receivedAt is
// stamped by the caller at the ingestion boundary; rawPayload is the verbatim
// carrier body kept for archival and review.
func (n *Normalizer) Normalize(ctx context.Context, raw *RawEvent, source string, receivedAt time.Time, rawPayload []byte) (*models.TrackingEvent, error) {
	if source == "" {
		return nil, fmt.Errorf("normalize: source is required")
	}
	if err := n.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("normalize: invalid payload: %w", err)
	}

	shipment, err := n.resolveShipment(ctx, raw)
	if err != nil {
		return nil, err
	}

	event := &models.TrackingEvent{
		ID:          uuid.New(),
		ShipmentID:  shipment.ID,
		Description: raw.Description,
		Location:    raw.Location,
		Source:      source,
		ReceivedAt:  receivedAt,
		RawPayload:  rawPayload,
	}

	if raw.OccurredAt != nil && !raw.OccurredAt.IsZero() {
		event.OccurredAt = raw.OccurredAt.UTC()
	} else {
		event.OccurredAt = receivedAt
		event.OccurredAtEstimated = true
	}

	n.classify(ctx, raw, event)

	if raw.CarrierEventID == "" && event.OccurredAtEstimated {
		// No carrier timestamp: the occurred_at fallback is the ingestion
		// clock, so key on the payload content or every retry would store
		// a fresh event.
		event.DedupKey = models.ContentDedupKeyFor(shipment.ID, source,
			raw.OccurrenceCode, raw.Status, raw.Description, raw.Location)
	} else {
		event.DedupKey = models.DedupKeyFor(shipment.ID, source, event.OccurrenceCode,
			event.OccurredAt, raw.CarrierEventID)
	}

	return event, nil
}

func (n *Normalizer) resolveShipment(ctx context.Context, raw *RawEvent) (*models.Shipment, error) {
	if raw.TrackingCode != "" {
		shipment, err := n.shipments.FindShipmentByTrackingCode(ctx, raw.TrackingCode)
		if err == nil {
			return shipment, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("normalize: failed to resolve shipment: %w", err)
		}
	}

	if raw.InvoiceNumber != "" && raw.Document != "" {
		shipment, err := n.shipments.FindShipmentByInvoiceDocument(ctx, raw.InvoiceNumber, raw.Document)
		if err == nil {
			return shipment, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("normalize: failed to resolve shipment: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: tracking_code=%q invoice=%q", ErrUnresolvedShipment,
		raw.TrackingCode, raw.InvoiceNumber)
}

// classify sets the event's occurrence code and canonical status. Unknown
// codes fall through to unclassified with a review tag, never to rejection.
func (n *Normalizer) classify(ctx context.Context, raw *RawEvent, event *models.TrackingEvent) {
	event.OccurrenceCode = raw.OccurrenceCode

	if raw.OccurrenceCode != "" {
		if code, ok := n.codes.Lookup(raw.OccurrenceCode); ok {
			event.CanonicalStatus = code.CanonicalStatus
			if event.Description == "" {
				event.Description = code.Description
			}
			return
		}
		event.CanonicalStatus = models.StatusUnclassified
		event.NeedsReview = true
		metrics.EventsUnclassified.Inc()
		logging.Ctx(ctx).Warn().
			Str("occurrence_code", raw.OccurrenceCode).
			Str("source", event.Source).
			Msg("Unregistered occurrence code, event tagged for review")
		return
	}

	if status, ok := statusFromText(raw.Status); ok {
		event.CanonicalStatus = status
		return
	}

	event.CanonicalStatus = models.StatusUnclassified
	event.NeedsReview = true
	metrics.EventsUnclassified.Inc()
}

// isNotFound distinguishes a missing shipment from infrastructure failure;
// only the former is an unresolved-shipment outcome.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
