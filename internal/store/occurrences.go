// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package store

import (
	"context"
	"fmt"

	"github.com/mfvianna/shiptrace/internal/models"
)

// SeedOccurrenceCodes upserts the occurrence code table. Called at startup
// with the builtin seed and again on registry reload, so the persisted table
// always mirrors the active in-memory snapshot.
func (db *DB) SeedOccurrenceCodes(ctx context.Context, codes []models.OccurrenceCode) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO occurrence_codes (
		code, description, type, process, canonical_status, severity, terminal
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (code) DO UPDATE SET
		description = EXCLUDED.description,
		type = EXCLUDED.type,
		process = EXCLUDED.process,
		canonical_status = EXCLUDED.canonical_status,
		severity = EXCLUDED.severity,
		terminal = EXCLUDED.terminal`

	for _, code := range codes {
		if _, err := db.conn.ExecContext(ctx, query,
			code.Code, code.Description, code.Type, code.Process,
			string(code.CanonicalStatus), string(code.Severity), code.Terminal); err != nil {
			return fmt.Errorf("failed to seed occurrence code %s: %w", code.Code, err)
		}
	}
	return nil
}

// ListOccurrenceCodes returns the persisted occurrence taxonomy ordered by code.
func (db *DB) ListOccurrenceCodes(ctx context.Context) ([]models.OccurrenceCode, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT
		code, description, type, process, canonical_status, severity, terminal
		FROM occurrence_codes ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrence codes: %w", err)
	}
	defer rows.Close()

	var codes []models.OccurrenceCode
	for rows.Next() {
		var code models.OccurrenceCode
		var status, severity string
		if err := rows.Scan(&code.Code, &code.Description, &code.Type, &code.Process,
			&status, &severity, &code.Terminal); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence code: %w", err)
		}
		code.CanonicalStatus = models.CanonicalStatus(status)
		code.Severity = models.Severity(severity)
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate occurrence codes: %w", err)
	}
	return codes, nil
}
