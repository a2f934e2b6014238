// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
statemachine.go - Shipment Status State Machine

Derives the authoritative shipment status from accepted events. The rules:

  - Forward transitions follow the fulfillment order (created, collected,
    in_transit, out_for_delivery, delivered). Rank comparisons make the
    linear flow order-insensitive under out-of-order arrival.
  - exception is reachable from any non-terminal state and is recoverable.
    Recovery is not order-insensitive, so Apply additionally rejects
    non-terminal events whose occurred_at precedes the last applied event:
    they are recorded at their timeline position but never rewrite the
    status. Late terminal events still go through the table, since a
    delivered scan surfacing after a stale exception must win. With that
    guard, arrival order converges on the same status as folding the
    chronologically ordered timeline.
  - returned is terminal and reachable from any non-terminal state.
  - delivered and returned are final. Later events are recorded in the
    timeline but flagged as anomalies, never applied.
  - A regression (rank going backwards) is flagged as an anomaly and the
    status is left untouched. Carrier feeds are unreliable; the design
    favors monotonic progress with exception as the explicit escape hatch.
  - unclassified events never move the status.

Concurrency: Apply holds the per-shipment lock for the transition and runs an
optimistic retry loop on current_status_version, so concurrent events for one
shipment serialize and lost updates are impossible. Events for different
shipments proceed fully in parallel.
*/

//nolint:staticcheck // File documentation, not package doc
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/store"
)

// maxTransitionRetries bounds the optimistic retry loop. The per-shipment
// lock makes version conflicts rare; hitting the cap means something else is
// writing shipment rows and deserves an error, not another retry.
const maxTransitionRetries = 3

// Outcome classifies what Apply decided about an event.
type Outcome string

const (
	// OutcomeApplied means the shipment moved to the event's status.
	OutcomeApplied Outcome = "applied"

	// OutcomeNoChange covers events that are valid but do not move the
	// status: unclassified codes and repeats of the current status.
	OutcomeNoChange Outcome = "no_change"

	// OutcomeLateArrival marks a non-terminal event chronologically earlier
	// than the last applied one. Recorded in the timeline at its true
	// position, never applied to the status.
	OutcomeLateArrival Outcome = "late_arrival"

	// OutcomeAnomalyRegression marks an event that would move the shipment
	// backwards. Recorded, flagged, not applied.
	OutcomeAnomalyRegression Outcome = "anomaly_regression"

	// OutcomeAnomalyPostTerminal marks an event arriving after delivery or
	// return. Recorded for audit, flagged, not applied.
	OutcomeAnomalyPostTerminal Outcome = "anomaly_post_terminal"
)

// Anomalous reports whether the outcome flags the event instead of applying it.
func (o Outcome) Anomalous() bool {
	return o == OutcomeAnomalyRegression || o == OutcomeAnomalyPostTerminal
}

// Decision is the result of evaluating one event against a shipment.
type Decision struct {
	Outcome   Outcome
	OldStatus models.CanonicalStatus
	NewStatus models.CanonicalStatus

	// NewVersion is the shipment's status version after an applied
	// transition; zero otherwise.
	NewVersion int64
}

// Store is the slice of the persistence layer the machine needs.
type Store interface {
	LockShipment(shipmentID uuid.UUID) func()
	GetShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	ApplyTransition(ctx context.Context, shipmentID uuid.UUID, expectedVersion int64, newStatus models.CanonicalStatus, eventID uuid.UUID, eventAt time.Time) error
	MarkEventAnomalous(ctx context.Context, id uuid.UUID) error
}

// Machine applies accepted events to shipment status.
type Machine struct {
	store Store
}

// New creates a state machine over the given store.
func New(s Store) *Machine {
	return &Machine{store: s}
}

// Evaluate runs the transition table without side effects. Exposed so the
// timeline fold and tests can share the exact production rules.
func Evaluate(current, next models.CanonicalStatus) Decision {
	d := Decision{OldStatus: current, NewStatus: current}

	// Unclassified events carry no status meaning.
	if next == models.StatusUnclassified {
		d.Outcome = OutcomeNoChange
		return d
	}

	// Terminal finality.
	if current.IsTerminal() {
		d.Outcome = OutcomeAnomalyPostTerminal
		return d
	}

	if next == current {
		d.Outcome = OutcomeNoChange
		return d
	}

	// exception and returned are reachable from any non-terminal state.
	if next == models.StatusException || next == models.StatusReturned {
		d.Outcome = OutcomeApplied
		d.NewStatus = next
		return d
	}

	// Recovery from exception to any concrete fulfillment state.
	if current == models.StatusException {
		d.Outcome = OutcomeApplied
		d.NewStatus = next
		return d
	}

	currentRank, ok := current.Rank()
	if !ok {
		// current is unclassified, which Apply never writes; treat any
		// ranked status as forward progress.
		d.Outcome = OutcomeApplied
		d.NewStatus = next
		return d
	}
	nextRank, ok := next.Rank()
	if !ok {
		d.Outcome = OutcomeNoChange
		return d
	}

	if nextRank < currentRank {
		d.Outcome = OutcomeAnomalyRegression
		return d
	}
	d.Outcome = OutcomeApplied
	d.NewStatus = next
	return d
}

// Apply evaluates an accepted event against its shipment and persists the
// transition when the table allows it. Anomalous events are flagged in the
// event table; the status and version are left untouched.
func (m *Machine) Apply(ctx context.Context, event *models.TrackingEvent) (*Decision, error) {
	unlock := m.store.LockShipment(event.ShipmentID)
	defer unlock()

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		shipment, err := m.store.GetShipment(ctx, event.ShipmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load shipment: %w", err)
		}

		// A chronologically-earlier event surfacing late cannot rewrite the
		// status: exception entry and recovery are order-sensitive, so a
		// stale scan applied as the newest event would flip the shipment
		// away from the fold over the ordered timeline. Terminal statuses
		// are exempt; they outrank whatever non-terminal state they preceded.
		if shipment.LastEventAt != nil && event.OccurredAt.Before(*shipment.LastEventAt) &&
			!event.CanonicalStatus.IsTerminal() {
			decision := Decision{
				Outcome:   OutcomeLateArrival,
				OldStatus: shipment.CurrentStatus,
				NewStatus: shipment.CurrentStatus,
			}
			metrics.EventsLate.Inc()
			logging.Ctx(ctx).Debug().
				Str("shipment_id", event.ShipmentID.String()).
				Str("event_id", event.ID.String()).
				Time("occurred_at", event.OccurredAt).
				Time("last_event_at", *shipment.LastEventAt).
				Msg("Late event recorded, status unchanged")
			return &decision, nil
		}

		decision := Evaluate(shipment.CurrentStatus, event.CanonicalStatus)

		if decision.Outcome.Anomalous() {
			if err := m.store.MarkEventAnomalous(ctx, event.ID); err != nil {
				return nil, fmt.Errorf("failed to flag anomaly: %w", err)
			}
			event.Anomaly = true
			metrics.RecordAnomaly(string(decision.Outcome))
			logging.Ctx(ctx).Warn().
				Str("shipment_id", event.ShipmentID.String()).
				Str("event_id", event.ID.String()).
				Str("current_status", string(shipment.CurrentStatus)).
				Str("event_status", string(event.CanonicalStatus)).
				Str("outcome", string(decision.Outcome)).
				Msg("Anomalous transition recorded, status unchanged")
			return &decision, nil
		}

		if decision.Outcome == OutcomeNoChange {
			return &decision, nil
		}

		err = m.store.ApplyTransition(ctx, event.ShipmentID,
			shipment.CurrentStatusVersion, decision.NewStatus, event.ID, event.OccurredAt)
		if errors.Is(err, store.ErrStorageConflict) {
			metrics.TransitionConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to persist transition: %w", err)
		}

		decision.NewVersion = shipment.CurrentStatusVersion + 1
		metrics.RecordTransition(string(decision.OldStatus), string(decision.NewStatus))
		logging.Ctx(ctx).Info().
			Str("shipment_id", event.ShipmentID.String()).
			Str("event_id", event.ID.String()).
			Str("old_status", string(decision.OldStatus)).
			Str("new_status", string(decision.NewStatus)).
			Int64("status_version", decision.NewVersion).
			Msg("Status transition applied")
		return &decision, nil
	}

	return nil, fmt.Errorf("failed to apply transition after %d attempts: %w",
		maxTransitionRetries, store.ErrStorageConflict)
}

// Fold replays the transition table over an ordered event sequence starting
// from created. It is the reference computation for the shipment status; the
// incrementally maintained current_status must always match it.
func Fold(events []*models.TrackingEvent) models.CanonicalStatus {
	status := models.StatusCreated
	for _, event := range events {
		decision := Evaluate(status, event.CanonicalStatus)
		if decision.Outcome == OutcomeApplied {
			status = decision.NewStatus
		}
	}
	return status
}
