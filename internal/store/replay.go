// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// EnqueuePending stores a raw event whose shipment could not be resolved.
// The replay loop retries it until the configured window expires.
func (db *DB) EnqueuePending(ctx context.Context, p *models.PendingEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if p.Source == "" {
		return fmt.Errorf("pending event: source is required")
	}

	query := `INSERT INTO pending_events (
		id, tracking_code, invoice_number, document, carrier, source,
		raw_payload, first_seen_at, attempts, state, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := db.conn.ExecContext(ctx, query,
		p.ID, p.TrackingCode, p.InvoiceNumber, p.Document, p.Carrier, p.Source,
		p.RawPayload, p.FirstSeenAt, p.Attempts, string(p.State), p.LastError); err != nil {
		return fmt.Errorf("failed to enqueue pending event: %w", err)
	}
	return nil
}

// ListQueuedPending returns queued replay entries oldest first, bounded by
// limit so one sweep stays cheap.
func (db *DB) ListQueuedPending(ctx context.Context, limit int) ([]*models.PendingEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+pendingColumns+`
		FROM pending_events
		WHERE state = ?
		ORDER BY first_seen_at ASC, id ASC
		LIMIT ?`, string(models.PendingStateQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// ListManualReviewPending returns entries that aged out of the replay window.
func (db *DB) ListManualReviewPending(ctx context.Context, limit, offset int) ([]*models.PendingEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+pendingColumns+`
		FROM pending_events
		WHERE state = ?
		ORDER BY first_seen_at DESC, id DESC
		LIMIT ? OFFSET ?`, string(models.PendingStateManualReview), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual review events: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// MarkPendingAttempt bumps the attempt counter after a failed replay.
func (db *DB) MarkPendingAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `UPDATE pending_events SET
		attempts = attempts + 1,
		last_error = ?
	WHERE id = ?`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark pending attempt: %w", err)
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

// MarkPendingManualReview routes an entry straight to manual review without
// waiting for the replay window, used when replay can never succeed (for
// example an unparseable payload).
func (db *DB) MarkPendingManualReview(ctx context.Context, id uuid.UUID, lastError string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `UPDATE pending_events SET
		state = ?,
		attempts = attempts + 1,
		last_error = ?
	WHERE id = ?`, string(models.PendingStateManualReview), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark pending manual review: %w", err)
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

// DeletePending removes a replay entry after the event ingested successfully.
func (db *DB) DeletePending(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM pending_events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending event: %w", err)
	}
	return nil
}

// ExpirePending moves queued entries older than maxAge to manual review.
// Nothing is deleted; expired entries stay queryable indefinitely.
func (db *DB) ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := db.conn.ExecContext(ctx, `UPDATE pending_events SET
		state = ?
	WHERE state = ? AND first_seen_at < ?`,
		string(models.PendingStateManualReview), string(models.PendingStateQueued), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// CountQueuedPending returns the current replay queue depth.
func (db *DB) CountQueuedPending(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_events WHERE state = ?`,
		string(models.PendingStateQueued)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

const pendingColumns = `id, tracking_code, invoice_number, document, carrier,
	source, raw_payload, first_seen_at, attempts, state, last_error`

func collectPending(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*models.PendingEvent, error) {
	var pending []*models.PendingEvent
	for rows.Next() {
		var p models.PendingEvent
		var state string
		if err := rows.Scan(&p.ID, &p.TrackingCode, &p.InvoiceNumber, &p.Document,
			&p.Carrier, &p.Source, &p.RawPayload, &p.FirstSeenAt,
			&p.Attempts, &state, &p.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		p.State = models.PendingState(state)
		pending = append(pending, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}
	return pending, nil
}
