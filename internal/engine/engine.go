// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
engine.go - Ingest Pipeline

Orchestrates the full path of one carrier event:

  normalize -> persist (dedup) -> publish/archive -> state machine -> dispatch

Events whose shipment cannot be resolved are parked in the pending queue and
retried by the replay sweeper until the configured window expires. Duplicates
stop at the persistence step. Automation dispatch and the bus publish happen
after the per-shipment lock is released; a slow webhook never holds up
ingestion of the next event.
*/

//nolint:staticcheck // File documentation, not package doc
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/archive"
	"github.com/mfvianna/shiptrace/internal/bus"
	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/dispatcher"
	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/normalizer"
	"github.com/mfvianna/shiptrace/internal/statemachine"
	"github.com/mfvianna/shiptrace/internal/store"
)

// IngestOutcome classifies one pass of the ingest pipeline.
type IngestOutcome string

const (
	// IngestAccepted means the event is stored and was applied to the
	// shipment status (or recorded as no-change/anomaly).
	IngestAccepted IngestOutcome = "accepted"
	// IngestDuplicate means the dedup key already existed; nothing changed.
	IngestDuplicate IngestOutcome = "duplicate"
	// IngestQueued means the shipment is unknown and the raw event was
	// parked for replay.
	IngestQueued IngestOutcome = "queued"
)

// IngestResult reports what happened to one raw event.
type IngestResult struct {
	Outcome IngestOutcome `json:"outcome"`
	// EventID is set for accepted events.
	EventID uuid.UUID `json:"event_id,omitempty"`
	// ShipmentID is set for accepted and duplicate events.
	ShipmentID uuid.UUID `json:"shipment_id,omitempty"`
	// Decision is set when the state machine ran.
	Decision *statemachine.Decision `json:"decision,omitempty"`
}

// BatchItem pairs one raw event of a batch with its individual outcome. A
// rejected item never aborts its siblings.
type BatchItem struct {
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Engine wires the ingest pipeline together.
type Engine struct {
	store      *store.DB
	normalizer *normalizer.Normalizer
	machine    *statemachine.Machine
	dispatcher *dispatcher.Dispatcher
	bus        *bus.Bus

	// archive is nil when archival is disabled.
	archive *archive.Sink

	replayCfg *config.ReplayConfig

	// kick wakes the replay sweeper out of turn, e.g. right after a
	// shipment registration that may unblock parked events.
	kick chan struct{}
}

// New assembles the pipeline. archiveSink may be nil.
func New(db *store.DB, n *normalizer.Normalizer, m *statemachine.Machine,
	d *dispatcher.Dispatcher, b *bus.Bus, archiveSink *archive.Sink,
	replayCfg *config.ReplayConfig) *Engine {
	return &Engine{
		store:      db,
		normalizer: n,
		machine:    m,
		dispatcher: d,
		bus:        b,
		archive:    archiveSink,
		replayCfg:  replayCfg,
		kick:       make(chan struct{}, 1),
	}
}

// IngestRaw runs one raw event through the full pipeline. Unresolvable
// shipments queue the event instead of rejecting it; validation failures are
// the only hard error a well-formed caller sees.
func (e *Engine) IngestRaw(ctx context.Context, raw *normalizer.RawEvent, source string, rawPayload []byte) (*IngestResult, error) {
	return e.ingest(ctx, raw, source, rawPayload, true)
}

// IngestBatch processes raw events in order, isolating per-item failures.
func (e *Engine) IngestBatch(ctx context.Context, raws []*normalizer.RawEvent, source string, rawPayloads [][]byte) []BatchItem {
	items := make([]BatchItem, len(raws))
	for i, raw := range raws {
		var payload []byte
		if i < len(rawPayloads) {
			payload = rawPayloads[i]
		}
		result, err := e.IngestRaw(ctx, raw, source, payload)
		if err != nil {
			items[i] = BatchItem{Error: err.Error()}
			continue
		}
		items[i] = BatchItem{Result: result}
	}
	return items
}

// ingest is the shared pipeline body. queueOnUnresolved is false during
// replay so a still-unresolved event bumps its existing pending row instead
// of enqueueing a second one.
func (e *Engine) ingest(ctx context.Context, raw *normalizer.RawEvent, source string, rawPayload []byte, queueOnUnresolved bool) (*IngestResult, error) {
	start := time.Now()
	receivedAt := start.UTC()

	event, err := e.normalizer.Normalize(ctx, raw, source, receivedAt, rawPayload)
	if errors.Is(err, normalizer.ErrUnresolvedShipment) {
		if !queueOnUnresolved {
			return nil, err
		}
		if qErr := e.queuePending(ctx, raw, source, rawPayload, receivedAt); qErr != nil {
			return nil, qErr
		}
		metrics.RecordIngest(source, "unresolved", time.Since(start))
		return &IngestResult{Outcome: IngestQueued}, nil
	}
	if err != nil {
		metrics.RecordIngest(source, "rejected", time.Since(start))
		return nil, err
	}

	outcome, err := e.store.InsertEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to store event: %w", err)
	}
	if outcome == store.OutcomeDuplicate {
		metrics.RecordIngest(source, "duplicate", time.Since(start))
		return &IngestResult{Outcome: IngestDuplicate, ShipmentID: event.ShipmentID}, nil
	}

	if err := e.bus.PublishEvent(event); err != nil {
		// The bus feeds observers, not the pipeline; the stored event wins.
		logging.Ctx(ctx).Error().Err(err).
			Str("event_id", event.ID.String()).
			Msg("Failed to publish accepted event")
	}
	if e.archive != nil {
		e.archive.Enqueue(event)
	}

	decision, err := e.machine.Apply(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to apply event %s: %w", event.ID, err)
	}

	if decision.Outcome == statemachine.OutcomeApplied {
		e.afterTransition(ctx, event, decision)
	}

	metrics.RecordIngest(source, "accepted", time.Since(start))
	return &IngestResult{
		Outcome:    IngestAccepted,
		EventID:    event.ID,
		ShipmentID: event.ShipmentID,
		Decision:   decision,
	}, nil
}

// afterTransition publishes the transition and runs automation, outside the
// per-shipment lock. Failures here are logged; the transition itself is
// already durable.
func (e *Engine) afterTransition(ctx context.Context, event *models.TrackingEvent, decision *statemachine.Decision) {
	shipment, err := e.store.GetShipment(ctx, event.ShipmentID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("shipment_id", event.ShipmentID.String()).
			Msg("Failed to reload shipment for dispatch")
		return
	}

	tc := &models.TransitionContext{
		ShipmentID:    shipment.ID,
		TrackingCode:  shipment.TrackingCode,
		Carrier:       shipment.Carrier,
		OldStatus:     decision.OldStatus,
		NewStatus:     decision.NewStatus,
		StatusVersion: decision.NewVersion,
		EventID:       event.ID,
		OccurredAt:    event.OccurredAt,
	}

	if err := e.bus.PublishTransition(tc); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("shipment_id", shipment.ID.String()).
			Msg("Failed to publish status transition")
	}
	if err := e.dispatcher.Dispatch(ctx, shipment, tc); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("shipment_id", shipment.ID.String()).
			Msg("Automation dispatch failed")
	}
}

// queuePending parks an unresolvable raw event for the replay sweeper.
func (e *Engine) queuePending(ctx context.Context, raw *normalizer.RawEvent, source string, rawPayload []byte, firstSeenAt time.Time) error {
	if len(rawPayload) == 0 {
		// Programmatic callers may not carry the wire body; reconstruct one
		// so replay has something to parse.
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("failed to encode pending payload: %w", err)
		}
		rawPayload = encoded
	}

	pending := &models.PendingEvent{
		ID:            uuid.New(),
		TrackingCode:  raw.TrackingCode,
		InvoiceNumber: raw.InvoiceNumber,
		Document:      raw.Document,
		Carrier:       raw.Carrier,
		Source:        source,
		RawPayload:    rawPayload,
		FirstSeenAt:   firstSeenAt,
		State:         models.PendingStateQueued,
	}
	if err := e.store.EnqueuePending(ctx, pending); err != nil {
		return fmt.Errorf("failed to queue unresolved event: %w", err)
	}

	metrics.ReplayQueueDepth.Inc()
	logging.Ctx(ctx).Info().
		Str("pending_id", pending.ID.String()).
		Str("tracking_code", raw.TrackingCode).
		Str("source", source).
		Msg("Unresolved event queued for replay")
	return nil
}

// CreateShipment registers a shipment and wakes the replay sweeper, since
// parked events may now resolve.
func (e *Engine) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	if err := e.store.CreateShipment(ctx, shipment); err != nil {
		return err
	}
	e.KickReplay()
	return nil
}

// KickReplay requests an out-of-turn replay sweep. Non-blocking; a sweep
// already pending absorbs the kick.
func (e *Engine) KickReplay() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}
