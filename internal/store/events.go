// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// IngestOutcome is the result of attempting to persist a tracking event.
type IngestOutcome string

const (
	// OutcomeAccepted means the event was new and is now part of the timeline.
	OutcomeAccepted IngestOutcome = "accepted"

	// OutcomeDuplicate means an event with the same dedup key already exists.
	// Duplicates are acknowledged, never re-stored and never re-dispatched.
	OutcomeDuplicate IngestOutcome = "duplicate"
)

// InsertEvent persists a normalized tracking event. Idempotency rides on the
// UNIQUE dedup_key constraint: a re-delivered event inserts zero rows and the
// outcome is OutcomeDuplicate.
func (db *DB) InsertEvent(ctx context.Context, event *models.TrackingEvent) (IngestOutcome, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("failed to validate event: %w", err)
	}

	query := `INSERT OR IGNORE INTO tracking_events (
		id, shipment_id, occurrence_code, canonical_status, description,
		location, source, occurred_at, received_at, occurred_at_estimated,
		dedup_key, raw_payload, needs_review, anomaly
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.conn.ExecContext(ctx, query,
		event.ID, event.ShipmentID, event.OccurrenceCode, string(event.CanonicalStatus),
		event.Description, event.Location, event.Source,
		event.OccurredAt, event.ReceivedAt, event.OccurredAtEstimated,
		event.DedupKey, event.RawPayload, event.NeedsReview, event.Anomaly)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeAccepted, nil
}

// GetEvent returns a single tracking event by id.
func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*models.TrackingEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+eventColumns+`
		FROM tracking_events WHERE id = ?`, id)

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListEventsByShipment returns all events of a shipment in timeline order:
// occurred_at, then received_at, then id. The id tie-break keeps the order
// stable when two sources report the same instant.
func (db *DB) ListEventsByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*models.TrackingEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM tracking_events
		WHERE shipment_id = ?
		ORDER BY occurred_at ASC, received_at ASC, id ASC`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.TrackingEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// ListEventsNeedingReview returns events carrying unregistered occurrence
// codes, newest first.
func (db *DB) ListEventsNeedingReview(ctx context.Context, limit, offset int) ([]*models.TrackingEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM tracking_events
		WHERE needs_review
		ORDER BY received_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list review events: %w", err)
	}
	defer rows.Close()

	var events []*models.TrackingEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// MarkEventAnomalous flags an already-stored event as not applied to the
// shipment status. The event itself stays in the timeline untouched.
func (db *DB) MarkEventAnomalous(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE tracking_events SET anomaly = true WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event anomalous: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEventsByShipment returns the number of stored events for a shipment.
func (db *DB) CountEventsByShipment(ctx context.Context, shipmentID uuid.UUID) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracking_events WHERE shipment_id = ?`, shipmentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

const eventColumns = `id, shipment_id, occurrence_code, canonical_status,
	description, location, source, occurred_at, received_at,
	occurred_at_estimated, dedup_key, raw_payload, needs_review, anomaly`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.TrackingEvent, error) {
	var event models.TrackingEvent
	var status string
	if err := row.Scan(
		&event.ID, &event.ShipmentID, &event.OccurrenceCode, &status,
		&event.Description, &event.Location, &event.Source,
		&event.OccurredAt, &event.ReceivedAt, &event.OccurredAtEstimated,
		&event.DedupKey, &event.RawPayload, &event.NeedsReview, &event.Anomaly,
	); err != nil {
		return nil, err
	}
	event.CanonicalStatus = models.CanonicalStatus(status)
	return &event, nil
}
