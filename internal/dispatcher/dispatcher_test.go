// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/models"
)

// fakeDispatchStore keeps rules and invocation claims in memory.
type fakeDispatchStore struct {
	mu        sync.Mutex
	rules     []*models.AutomationRule
	claims    map[string]*models.AutomationInvocation
	completed map[uuid.UUID]string
	failed    map[uuid.UUID]string
}

func newFakeDispatchStore(rules ...*models.AutomationRule) *fakeDispatchStore {
	return &fakeDispatchStore{
		rules:     rules,
		claims:    make(map[string]*models.AutomationInvocation),
		completed: make(map[uuid.UUID]string),
		failed:    make(map[uuid.UUID]string),
	}
}

func (f *fakeDispatchStore) ListEnabledRules(_ context.Context) ([]*models.AutomationRule, error) {
	return f.rules, nil
}

func (f *fakeDispatchStore) ClaimInvocation(_ context.Context, inv *models.AutomationInvocation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", inv.ShipmentID, inv.RuleID, inv.StatusVersion)
	if _, exists := f.claims[key]; exists {
		return false, nil
	}
	f.claims[key] = inv
	return true, nil
}

func (f *fakeDispatchStore) CompleteInvocation(_ context.Context, id uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = errMsg
	return nil
}

func (f *fakeDispatchStore) FailInvocation(_ context.Context, id uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

// recordingNotifier counts deliveries and optionally fails.
type recordingNotifier struct {
	calls atomic.Int64
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _, _ string, _ *models.TransitionContext) error {
	n.calls.Add(1)
	return n.err
}

func testDispatcherConfig() *config.DispatcherConfig {
	return &config.DispatcherConfig{
		ActionTimeout:        2 * time.Second,
		WebhookRatePerSecond: 0,
		BreakerMaxFailures:   5,
		BreakerOpenInterval:  time.Second,
	}
}

func deliveredRule(actions ...models.Action) *models.AutomationRule {
	return &models.AutomationRule{
		ID:              uuid.New(),
		Name:            "on delivered",
		TriggerStatuses: []models.CanonicalStatus{models.StatusDelivered},
		Actions:         actions,
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
}

func transition(shipment *models.Shipment, newStatus models.CanonicalStatus, version int64) *models.TransitionContext {
	return &models.TransitionContext{
		ShipmentID:    shipment.ID,
		TrackingCode:  shipment.TrackingCode,
		Carrier:       shipment.Carrier,
		OldStatus:     models.StatusOutForDelivery,
		NewStatus:     newStatus,
		StatusVersion: version,
		EventID:       uuid.New(),
		OccurredAt:    time.Now().UTC(),
	}
}

func TestDispatchFiresMatchingRule(t *testing.T) {
	rule := deliveredRule(models.Action{Kind: models.ActionNotify, Target: "ops", Template: "tmpl"})
	store := newFakeDispatchStore(rule)
	notifier := &recordingNotifier{}
	d := New(store, notifier, testDispatcherConfig())

	shipment := models.NewShipment("TRK-1", "", "", "ssw")
	tc := transition(shipment, models.StatusDelivered, 4)

	if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if notifier.calls.Load() != 1 {
		t.Fatalf("Expected 1 notification, got %d", notifier.calls.Load())
	}
	if len(store.completed) != 1 {
		t.Fatalf("Expected 1 completed invocation, got %d", len(store.completed))
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	rule := deliveredRule(models.Action{Kind: models.ActionNotify, Target: "ops"})
	rule.Conditions = []models.Condition{{Field: "carrier", Op: models.OpEquals, Value: "other"}}
	store := newFakeDispatchStore(rule)
	notifier := &recordingNotifier{}
	d := New(store, notifier, testDispatcherConfig())

	shipment := models.NewShipment("TRK-1", "", "", "ssw")

	t.Run("status mismatch", func(t *testing.T) {
		tc := transition(shipment, models.StatusInTransit, 2)
		if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	})

	t.Run("condition mismatch", func(t *testing.T) {
		tc := transition(shipment, models.StatusDelivered, 3)
		if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	})

	if notifier.calls.Load() != 0 {
		t.Fatalf("Expected no notifications, got %d", notifier.calls.Load())
	}
	if len(store.claims) != 0 {
		t.Fatalf("Expected no claims, got %d", len(store.claims))
	}
}

func TestDispatchIdempotentPerTransition(t *testing.T) {
	rule := deliveredRule(models.Action{Kind: models.ActionNotify, Target: "ops"})
	store := newFakeDispatchStore(rule)
	notifier := &recordingNotifier{}
	d := New(store, notifier, testDispatcherConfig())

	shipment := models.NewShipment("TRK-1", "", "", "ssw")
	tc := transition(shipment, models.StatusDelivered, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
				t.Errorf("Dispatch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if notifier.calls.Load() != 1 {
		t.Fatalf("Expected exactly 1 notification under concurrent retries, got %d", notifier.calls.Load())
	}

	t.Run("new version fires again", func(t *testing.T) {
		tc2 := transition(shipment, models.StatusDelivered, 5)
		if err := d.Dispatch(context.Background(), shipment, tc2); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		if notifier.calls.Load() != 2 {
			t.Fatalf("Expected 2 notifications, got %d", notifier.calls.Load())
		}
	})
}

func TestDispatchActionFailureIsolation(t *testing.T) {
	received := atomic.Int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rule := deliveredRule(
		models.Action{Kind: models.ActionNotify, Target: "ops"},
		models.Action{Kind: models.ActionWebhook, Target: server.URL},
	)
	store := newFakeDispatchStore(rule)
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	d := New(store, notifier, testDispatcherConfig())

	shipment := models.NewShipment("TRK-1", "", "", "ssw")
	tc := transition(shipment, models.StatusDelivered, 4)

	if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// The failing notify must not block the webhook sibling.
	if received.Load() != 1 {
		t.Fatalf("Expected webhook delivery despite notify failure, got %d", received.Load())
	}
	if len(store.completed) != 0 {
		t.Fatal("Invocation must not complete when an action failed")
	}
	if len(store.failed) != 1 {
		t.Fatalf("Expected 1 failed invocation record, got %d", len(store.failed))
	}
	for _, msg := range store.failed {
		if msg == "" {
			t.Fatal("Expected failure message to be recorded")
		}
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rule := deliveredRule(models.Action{Kind: models.ActionWebhook, Target: server.URL})
	store := newFakeDispatchStore(rule)
	d := New(store, NewLogNotifier(), testDispatcherConfig())

	shipment := models.NewShipment("TRK-1", "", "", "ssw")
	tc := transition(shipment, models.StatusDelivered, 4)

	if err := d.Dispatch(context.Background(), shipment, tc); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(store.failed) != 1 {
		t.Fatalf("Expected failed invocation on non-2xx response, got %d", len(store.failed))
	}
}
