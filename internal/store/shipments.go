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
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// CreateShipment persists a new shipment. Ingestion never calls this; it is
// a platform operation, and new shipments are what unblock queued replay
// entries.
func (db *DB) CreateShipment(ctx context.Context, s *models.Shipment) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.Carrier == "" {
		return fmt.Errorf("shipment: carrier is required")
	}
	if s.TrackingCode == "" && (s.InvoiceNumber == "" || s.Document == "") {
		return fmt.Errorf("shipment: tracking code or invoice number and document are required")
	}

	query := `INSERT INTO shipments (
		id, tracking_code, invoice_number, document, carrier,
		current_status, current_status_version, last_event_id, last_event_at,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		s.ID, nullString(s.TrackingCode), s.InvoiceNumber, s.Document, s.Carrier,
		string(s.CurrentStatus), s.CurrentStatusVersion, s.LastEventID, s.LastEventAt,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create shipment: %w", err)
	}
	return nil
}

// GetShipment returns a shipment by id.
func (db *DB) GetShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	return db.queryShipment(ctx, `WHERE id = ?`, id)
}

// FindShipmentByTrackingCode resolves a shipment by its carrier tracking code.
func (db *DB) FindShipmentByTrackingCode(ctx context.Context, trackingCode string) (*models.Shipment, error) {
	if trackingCode == "" {
		return nil, ErrNotFound
	}
	return db.queryShipment(ctx, `WHERE tracking_code = ?`, trackingCode)
}

// FindShipmentByInvoiceDocument resolves a shipment by the fiscal document
// pair, used by carriers that report without a tracking code.
func (db *DB) FindShipmentByInvoiceDocument(ctx context.Context, invoiceNumber, document string) (*models.Shipment, error) {
	if invoiceNumber == "" || document == "" {
		return nil, ErrNotFound
	}
	return db.queryShipment(ctx, `WHERE invoice_number = ? AND document = ?`, invoiceNumber, document)
}

// ListShipments returns shipments newest first.
func (db *DB) ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+shipmentColumns+`
		FROM shipments
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	defer rows.Close()

	var shipments []*models.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shipment: %w", err)
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shipments: %w", err)
	}
	return shipments, nil
}

// ApplyTransition moves a shipment to a new status if and only if its version
// still matches expectedVersion. A zero-row update means another writer got
// there first and the caller must reload and re-evaluate.
func (db *DB) ApplyTransition(ctx context.Context, shipmentID uuid.UUID, expectedVersion int64, newStatus models.CanonicalStatus, eventID uuid.UUID, eventAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `UPDATE shipments SET
		current_status = ?,
		current_status_version = current_status_version + 1,
		last_event_id = ?,
		last_event_at = ?,
		updated_at = ?
	WHERE id = ? AND current_status_version = ?`

	result, err := db.conn.ExecContext(ctx, query,
		string(newStatus), eventID, eventAt, time.Now().UTC(), shipmentID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrStorageConflict
	}
	return nil
}

func (db *DB) queryShipment(ctx context.Context, where string, args ...any) (*models.Shipment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments `+where, args...)

	s, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return s, nil
}

const shipmentColumns = `id, tracking_code, invoice_number, document, carrier,
	current_status, current_status_version, last_event_id, last_event_at,
	created_at, updated_at`

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var s models.Shipment
	var trackingCode sql.NullString
	var status string
	var lastEventID *uuid.UUID
	var lastEventAt sql.NullTime
	if err := row.Scan(
		&s.ID, &trackingCode, &s.InvoiceNumber, &s.Document, &s.Carrier,
		&status, &s.CurrentStatusVersion, &lastEventID, &lastEventAt,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.TrackingCode = trackingCode.String
	s.CurrentStatus = models.CanonicalStatus(status)
	s.LastEventID = lastEventID
	if lastEventAt.Valid {
		t := lastEventAt.Time
		s.LastEventAt = &t
	}
	return &s, nil
}

// nullString maps "" to NULL so the tracking_code UNIQUE constraint ignores
// shipments identified only by fiscal documents.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
