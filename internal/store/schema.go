// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
schema.go - Database Schema Management

Tables:
  - shipments: one row per shipment with the derived current status and its
    version counter. tracking_code is unique when present; shipments created
    from fiscal documents may have it NULL.
  - tracking_events: immutable normalized events. dedup_key is UNIQUE, which
    is the whole idempotency mechanism: a re-delivered webhook maps to the
    same key and the insert is ignored.
  - occurrence_codes: the persisted registry seed, kept in sync with the
    in-memory snapshot so operators can inspect the active taxonomy.
  - automation_rules: trigger statuses, conditions and actions stored as JSON.
  - automation_invocations: at-most-once claims per
    (shipment_id, rule_id, status_version).
  - pending_events: replay queue for events whose shipment is unknown.

All columns are defined in the initial CREATE TABLE statements; there are no
migrations yet.
*/

//nolint:staticcheck // File documentation, not package doc
package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS shipments (
			id UUID PRIMARY KEY,
			tracking_code TEXT UNIQUE,
			invoice_number TEXT,
			document TEXT,
			carrier TEXT NOT NULL,
			current_status TEXT NOT NULL,
			current_status_version BIGINT NOT NULL DEFAULT 0,
			last_event_id UUID,
			last_event_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tracking_events (
			id UUID PRIMARY KEY,
			shipment_id UUID NOT NULL,
			occurrence_code TEXT NOT NULL DEFAULT '',
			canonical_status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			received_at TIMESTAMP NOT NULL,
			occurred_at_estimated BOOLEAN NOT NULL DEFAULT false,
			dedup_key TEXT NOT NULL UNIQUE,
			raw_payload BLOB,
			needs_review BOOLEAN NOT NULL DEFAULT false,
			anomaly BOOLEAN NOT NULL DEFAULT false
		)`,

		`CREATE TABLE IF NOT EXISTS occurrence_codes (
			code TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			process TEXT NOT NULL DEFAULT '',
			canonical_status TEXT NOT NULL,
			severity TEXT NOT NULL,
			terminal BOOLEAN NOT NULL DEFAULT false
		)`,

		`CREATE TABLE IF NOT EXISTS automation_rules (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			trigger_statuses TEXT NOT NULL,
			conditions TEXT NOT NULL DEFAULT '[]',
			actions TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS automation_invocations (
			id UUID PRIMARY KEY,
			shipment_id UUID NOT NULL,
			rule_id UUID NOT NULL,
			status_version BIGINT NOT NULL,
			dispatched_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error_message TEXT NOT NULL DEFAULT '',
			UNIQUE (shipment_id, rule_id, status_version)
		)`,

		`CREATE TABLE IF NOT EXISTS pending_events (
			id UUID PRIMARY KEY,
			tracking_code TEXT NOT NULL DEFAULT '',
			invoice_number TEXT NOT NULL DEFAULT '',
			document TEXT NOT NULL DEFAULT '',
			carrier TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			raw_payload BLOB,
			first_seen_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'queued',
			last_error TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// createIndexes creates indexes for common query patterns
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		// Timeline reads: all events of a shipment in canonical order.
		`CREATE INDEX IF NOT EXISTS idx_events_shipment_order
			ON tracking_events (shipment_id, occurred_at, received_at, id)`,

		// Manual review surface.
		`CREATE INDEX IF NOT EXISTS idx_events_needs_review
			ON tracking_events (needs_review)`,

		// Shipment resolution by fiscal document.
		`CREATE INDEX IF NOT EXISTS idx_shipments_invoice_document
			ON shipments (invoice_number, document)`,

		// Replay sweep: due queued entries ordered oldest first.
		`CREATE INDEX IF NOT EXISTS idx_pending_state_seen
			ON pending_events (state, first_seen_at)`,

		// Crash-recovery scan for never-completed invocations.
		`CREATE INDEX IF NOT EXISTS idx_invocations_incomplete
			ON automation_invocations (completed_at)`,
	}

	for _, index := range indexes {
		if _, err := db.conn.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", index, err)
		}
	}

	return nil
}
