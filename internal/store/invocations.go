// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// ClaimInvocation records an automation dispatch claim before any action
// runs. The UNIQUE (shipment_id, rule_id, status_version) constraint makes
// the claim at-most-once: a false return means another dispatcher already
// owns this transition and the caller must not execute the actions.
func (db *DB) ClaimInvocation(ctx context.Context, inv *models.AutomationInvocation) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT OR IGNORE INTO automation_invocations (
		id, shipment_id, rule_id, status_version, dispatched_at, completed_at, error_message
	) VALUES (?, ?, ?, ?, ?, NULL, '')`

	result, err := db.conn.ExecContext(ctx, query,
		inv.ID, inv.ShipmentID, inv.RuleID, inv.StatusVersion, inv.DispatchedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim invocation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// CompleteInvocation marks a claimed invocation finished. An empty errMsg
// means every action of the rule succeeded; otherwise the message records
// the terminal failure for operators.
func (db *DB) CompleteInvocation(ctx context.Context, id uuid.UUID, errMsg string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `UPDATE automation_invocations SET
		completed_at = now(),
		error_message = ?
	WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to complete invocation: %w", err)
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

// FailInvocation records the failure message on a claim without completing
// it, so a crashed or failed dispatch is retried as a whole.
func (db *DB) FailInvocation(ctx context.Context, id uuid.UUID, errMsg string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE automation_invocations SET error_message = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to record invocation failure: %w", err)
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

// ListIncompleteInvocations returns claims that were never completed, which
// is the crash-recovery surface: a process that died mid-dispatch leaves
// these behind for operators or a retry sweep.
func (db *DB) ListIncompleteInvocations(ctx context.Context) ([]*models.AutomationInvocation, error) {
	return db.listInvocations(ctx, `WHERE completed_at IS NULL`)
}

// ListInvocationsByShipment returns the dispatch history of one shipment.
func (db *DB) ListInvocationsByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*models.AutomationInvocation, error) {
	return db.listInvocations(ctx, `WHERE shipment_id = ?`, shipmentID)
}

func (db *DB) listInvocations(ctx context.Context, where string, args ...any) ([]*models.AutomationInvocation, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT
		id, shipment_id, rule_id, status_version, dispatched_at, completed_at, error_message
		FROM automation_invocations `+where+`
		ORDER BY dispatched_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	var invocations []*models.AutomationInvocation
	for rows.Next() {
		var inv models.AutomationInvocation
		if err := rows.Scan(&inv.ID, &inv.ShipmentID, &inv.RuleID, &inv.StatusVersion,
			&inv.DispatchedAt, &inv.CompletedAt, &inv.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invocations = append(invocations, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invocations: %w", err)
	}
	return invocations, nil
}
