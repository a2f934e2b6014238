// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
dispatcher.go - Automation Dispatcher

Fires automation rules on applied status transitions. Idempotency contract:
an AutomationInvocation row keyed (shipment_id, rule_id, status_version) is
claimed before any action runs; a failed claim means this exact transition
already fired and execution is skipped, tolerating crash-and-retry of the
dispatch step itself.

Actions execute in declared order with a bounded per-action timeout. One
action failing is reported and does not block its siblings, but the
invocation completes only when every action succeeded, so a partial dispatch
is retried as a whole. The caller must not hold the per-shipment lock while
Dispatch runs; external calls never sit inside the transition critical
section.

Webhook calls go through a circuit breaker and a shared rate limiter so a
dead or slow receiver cannot pile up goroutines.
*/

//nolint:staticcheck // File documentation, not package doc
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
)

// Store is the slice of the persistence layer the dispatcher needs.
type Store interface {
	ListEnabledRules(ctx context.Context) ([]*models.AutomationRule, error)
	ClaimInvocation(ctx context.Context, inv *models.AutomationInvocation) (bool, error)
	CompleteInvocation(ctx context.Context, id uuid.UUID, errMsg string) error
	FailInvocation(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Notifier delivers notification actions. The production implementation is
// an external collaborator; NewLogNotifier is the default.
type Notifier interface {
	Notify(ctx context.Context, target, template string, tc *models.TransitionContext) error
}

// Dispatcher evaluates rules and executes their actions.
type Dispatcher struct {
	store    Store
	notifier Notifier

	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker[any]
	limiter       *rate.Limiter
	actionTimeout time.Duration
}

// New creates a dispatcher with the configured webhook protections.
func New(s Store, notifier Notifier, cfg *config.DispatcherConfig) *Dispatcher {
	settings := gobreaker.Settings{
		Name:    "automation-webhook",
		Timeout: cfg.BreakerOpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	}

	var limiter *rate.Limiter
	if cfg.WebhookRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WebhookRatePerSecond), 1)
	}

	return &Dispatcher{
		store:         s,
		notifier:      notifier,
		httpClient:    &http.Client{Timeout: cfg.ActionTimeout},
		breaker:       gobreaker.NewCircuitBreaker[any](settings),
		limiter:       limiter,
		actionTimeout: cfg.ActionTimeout,
	}
}

// Dispatch evaluates all enabled rules against an applied transition. Rules
// whose trigger statuses and conditions match are claimed and executed. Rule
// evaluation errors are returned; action failures are recorded per
// invocation and do not fail the dispatch as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, shipment *models.Shipment, tc *models.TransitionContext) error {
	rules, err := d.store.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load automation rules: %w", err)
	}

	for _, rule := range rules {
		if !rule.Triggers(tc.NewStatus) || !rule.ConditionsHold(shipment) {
			continue
		}
		d.fire(ctx, rule, tc)
	}
	return nil
}

// fire claims and executes one matched rule.
func (d *Dispatcher) fire(ctx context.Context, rule *models.AutomationRule, tc *models.TransitionContext) {
	inv := &models.AutomationInvocation{
		ID:            uuid.New(),
		ShipmentID:    tc.ShipmentID,
		RuleID:        rule.ID,
		StatusVersion: tc.StatusVersion,
		DispatchedAt:  time.Now().UTC(),
	}

	claimed, err := d.store.ClaimInvocation(ctx, inv)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("rule_id", rule.ID.String()).
			Msg("Failed to claim automation invocation")
		return
	}
	if !claimed {
		metrics.AutomationInvocations.WithLabelValues("already_claimed").Inc()
		return
	}

	var failures []string
	for i, action := range rule.Actions {
		if err := d.execute(ctx, &action, tc); err != nil {
			failures = append(failures, fmt.Sprintf("action %d (%s): %v", i, action.Kind, err))
			logging.Ctx(ctx).Error().Err(err).
				Str("rule_id", rule.ID.String()).
				Str("action_kind", string(action.Kind)).
				Int("action_index", i).
				Msg("Automation action failed")
			// Siblings still run; the invocation stays incomplete.
		}
	}

	if len(failures) > 0 {
		metrics.AutomationInvocations.WithLabelValues("failed").Inc()
		if err := d.store.FailInvocation(ctx, inv.ID, strings.Join(failures, "; ")); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("invocation_id", inv.ID.String()).
				Msg("Failed to record invocation failure")
		}
		return
	}

	metrics.AutomationInvocations.WithLabelValues("completed").Inc()
	if err := d.store.CompleteInvocation(ctx, inv.ID, ""); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("invocation_id", inv.ID.String()).
			Msg("Failed to complete invocation")
	}
}

// execute runs one action with a bounded timeout. The action set is a closed
// variant: the switch is exhaustive over models.ActionKind.
func (d *Dispatcher) execute(ctx context.Context, action *models.Action, tc *models.TransitionContext) error {
	ctx, cancel := context.WithTimeout(ctx, d.actionTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch action.Kind {
	case models.ActionNotify:
		err = d.notifier.Notify(ctx, action.Target, action.Template, tc)
	case models.ActionWebhook:
		err = d.webhook(ctx, action.Target, tc)
	default:
		err = fmt.Errorf("unknown action kind %q", action.Kind)
	}
	metrics.RecordAction(string(action.Kind), time.Since(start), err)
	return err
}

// webhook posts the transition context as JSON, behind the rate limiter and
// circuit breaker.
func (d *Dispatcher) webhook(ctx context.Context, target string, tc *models.TransitionContext) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook rate limit: %w", err)
		}
	}

	body, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to marshal transition context: %w", err)
	}

	_, err = d.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook call failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// LogNotifier writes notifications to the structured log. Stands in for a
// real notification channel in single-binary deploys.
type LogNotifier struct{}

// NewLogNotifier creates the default notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Notify logs the notification payload.
func (n *LogNotifier) Notify(_ context.Context, target, template string, tc *models.TransitionContext) error {
	logging.Info().
		Str("target", target).
		Str("template", template).
		Str("shipment_id", tc.ShipmentID.String()).
		Str("new_status", string(tc.NewStatus)).
		Msg("Notification dispatched")
	return nil
}
