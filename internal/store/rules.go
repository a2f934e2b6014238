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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/models"
)

// CreateRule persists an automation rule. Trigger statuses, conditions and
// actions are stored as JSON columns.
func (db *DB) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if err := rule.Validate(); err != nil {
		return fmt.Errorf("failed to validate rule: %w", err)
	}

	triggers, err := json.Marshal(rule.TriggerStatuses)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger statuses: %w", err)
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `INSERT INTO automation_rules (
		id, name, trigger_statuses, conditions, actions, enabled, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := db.conn.ExecContext(ctx, query,
		rule.ID, rule.Name, string(triggers), string(conditions), string(actions),
		rule.Enabled, rule.CreatedAt); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetRule returns an automation rule by id.
func (db *DB) GetRule(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+ruleColumns+`
		FROM automation_rules WHERE id = ?`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListEnabledRules returns all rules the dispatcher should evaluate.
func (db *DB) ListEnabledRules(ctx context.Context) ([]*models.AutomationRule, error) {
	return db.listRules(ctx, `WHERE enabled`)
}

// ListRules returns every rule, enabled or not.
func (db *DB) ListRules(ctx context.Context) ([]*models.AutomationRule, error) {
	return db.listRules(ctx, ``)
}

// SetRuleEnabled toggles a rule without touching its definition.
func (db *DB) SetRuleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE automation_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
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

func (db *DB) listRules(ctx context.Context, where string) ([]*models.AutomationRule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+ruleColumns+`
		FROM automation_rules `+where+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

const ruleColumns = `id, name, trigger_statuses, conditions, actions, enabled, created_at`

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	var triggers, conditions, actions string
	if err := row.Scan(&rule.ID, &rule.Name, &triggers, &conditions, &actions,
		&rule.Enabled, &rule.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggers), &rule.TriggerStatuses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	return &rule, nil
}
