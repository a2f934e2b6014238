// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/bus"
	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/dispatcher"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/normalizer"
	"github.com/mfvianna/shiptrace/internal/registry"
	"github.com/mfvianna/shiptrace/internal/statemachine"
	"github.com/mfvianna/shiptrace/internal/store"
)

// testDBSemaphore serializes DuckDB access across tests. Concurrent CGO
// connections can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

// countingNotifier records delivered notifications.
type countingNotifier struct {
	count atomic.Int64
}

func (n *countingNotifier) Notify(_ context.Context, _, _ string, _ *models.TransitionContext) error {
	n.count.Add(1)
	return nil
}

// setupTestEngine wires a full pipeline over an in-memory store. No archive
// sink; archival has its own tests.
func setupTestEngine(t *testing.T) (*Engine, *store.DB, *countingNotifier) {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := store.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	b := bus.New()
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Failed to close bus: %v", err)
		}
	})

	notifier := &countingNotifier{}
	d := dispatcher.New(db, notifier, &config.DispatcherConfig{
		ActionTimeout:       5 * time.Second,
		BreakerMaxFailures:  3,
		BreakerOpenInterval: time.Second,
	})

	reg := registry.NewBuiltin()
	e := New(db, normalizer.New(reg, db), statemachine.New(db), d, b, nil,
		&config.ReplayConfig{MaxAge: 48 * time.Hour, Interval: time.Minute})
	return e, db, notifier
}

func createShipment(t *testing.T, db *store.DB, trackingCode string) *models.Shipment {
	t.Helper()
	s := models.NewShipment(trackingCode, "NF-2001", "12345678000190", "ssw")
	if err := db.CreateShipment(context.Background(), s); err != nil {
		t.Fatalf("Failed to create shipment: %v", err)
	}
	return s
}

func TestIngestLifecycle(t *testing.T) {
	e, db, _ := setupTestEngine(t)
	ctx := context.Background()
	shipment := createShipment(t, db, "TRK-"+uuid.NewString()[:8])

	occurredAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	raw := &normalizer.RawEvent{
		TrackingCode:   shipment.TrackingCode,
		OccurrenceCode: "80", // received for transport
		OccurredAt:     &occurredAt,
	}

	result, err := e.IngestRaw(ctx, raw, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw failed: %v", err)
	}
	if result.Outcome != IngestAccepted {
		t.Fatalf("outcome = %q, want accepted", result.Outcome)
	}
	if result.Decision == nil || result.Decision.Outcome != statemachine.OutcomeApplied {
		t.Fatalf("decision = %+v, want applied", result.Decision)
	}
	if result.Decision.NewStatus != models.StatusCollected {
		t.Errorf("new status = %q, want collected", result.Decision.NewStatus)
	}

	// Redelivery of the exact same carrier event is a duplicate.
	dup, err := e.IngestRaw(ctx, raw, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw redelivery failed: %v", err)
	}
	if dup.Outcome != IngestDuplicate {
		t.Fatalf("redelivery outcome = %q, want duplicate", dup.Outcome)
	}

	deliveredAt := occurredAt.Add(4 * time.Hour)
	delivered, err := e.IngestRaw(ctx, &normalizer.RawEvent{
		TrackingCode:   shipment.TrackingCode,
		OccurrenceCode: "1",
		OccurredAt:     &deliveredAt,
	}, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw delivered failed: %v", err)
	}
	if delivered.Decision.NewStatus != models.StatusDelivered {
		t.Errorf("new status = %q, want delivered", delivered.Decision.NewStatus)
	}

	got, err := db.GetShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if got.CurrentStatus != models.StatusDelivered {
		t.Errorf("shipment status = %q, want delivered", got.CurrentStatus)
	}
	if got.CurrentStatusVersion != 2 {
		t.Errorf("status version = %d, want 2", got.CurrentStatusVersion)
	}

	// A late in-transit scan after delivery is recorded as an anomaly, not
	// applied.
	lateAt := deliveredAt.Add(time.Hour)
	late, err := e.IngestRaw(ctx, &normalizer.RawEvent{
		TrackingCode:   shipment.TrackingCode,
		OccurrenceCode: "82",
		OccurredAt:     &lateAt,
	}, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw late scan failed: %v", err)
	}
	if late.Decision.Outcome != statemachine.OutcomeAnomalyPostTerminal {
		t.Errorf("late scan outcome = %q, want post-terminal anomaly", late.Decision.Outcome)
	}
}

func TestIngestUnresolvedQueuesForReplay(t *testing.T) {
	e, db, _ := setupTestEngine(t)
	ctx := context.Background()

	trackingCode := "TRK-" + uuid.NewString()[:8]
	occurredAt := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	raw := &normalizer.RawEvent{
		TrackingCode:   trackingCode,
		OccurrenceCode: "80",
		OccurredAt:     &occurredAt,
	}

	result, err := e.IngestRaw(ctx, raw, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw failed: %v", err)
	}
	if result.Outcome != IngestQueued {
		t.Fatalf("outcome = %q, want queued", result.Outcome)
	}

	pending, err := db.ListQueuedPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueuedPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].TrackingCode != trackingCode {
		t.Errorf("pending tracking code = %q, want %q", pending[0].TrackingCode, trackingCode)
	}

	// Registering the shipment makes the next sweep absorb the event.
	shipment := models.NewShipment(trackingCode, "NF-3001", "12345678000190", "ssw")
	if err := e.CreateShipment(ctx, shipment); err != nil {
		t.Fatalf("CreateShipment failed: %v", err)
	}
	e.sweepReplay(ctx)

	pending, err = db.ListQueuedPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueuedPending after sweep failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending count after sweep = %d, want 0", len(pending))
	}

	got, err := db.GetShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if got.CurrentStatus != models.StatusCollected {
		t.Errorf("shipment status after replay = %q, want collected", got.CurrentStatus)
	}
}

func TestSweepExpiresAgedPending(t *testing.T) {
	e, db, _ := setupTestEngine(t)
	ctx := context.Background()

	stale := &models.PendingEvent{
		ID:           uuid.New(),
		TrackingCode: "TRK-STALE",
		Source:       "ssw",
		RawPayload:   []byte(`{"tracking_code":"TRK-STALE","occurrence_code":"80"}`),
		FirstSeenAt:  time.Now().UTC().Add(-72 * time.Hour),
		State:        models.PendingStateQueued,
	}
	if err := db.EnqueuePending(ctx, stale); err != nil {
		t.Fatalf("EnqueuePending failed: %v", err)
	}

	e.sweepReplay(ctx)

	review, err := db.ListManualReviewPending(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListManualReviewPending failed: %v", err)
	}
	if len(review) != 1 || review[0].ID != stale.ID {
		t.Fatalf("manual review entries = %+v, want the stale event", review)
	}
}

func TestSweepRoutesUnparseablePendingToReview(t *testing.T) {
	e, db, _ := setupTestEngine(t)
	ctx := context.Background()

	garbled := &models.PendingEvent{
		ID:          uuid.New(),
		Source:      "ssw",
		RawPayload:  []byte(`{"tracking_code":`),
		FirstSeenAt: time.Now().UTC(),
		State:       models.PendingStateQueued,
	}
	if err := db.EnqueuePending(ctx, garbled); err != nil {
		t.Fatalf("EnqueuePending failed: %v", err)
	}

	e.sweepReplay(ctx)

	queued, err := db.ListQueuedPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueuedPending failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("queued entries = %+v, want the unparseable payload gone", queued)
	}

	review, err := db.ListManualReviewPending(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListManualReviewPending failed: %v", err)
	}
	if len(review) != 1 || review[0].ID != garbled.ID {
		t.Fatalf("manual review entries = %+v, want the unparseable payload", review)
	}
	if review[0].LastError == "" {
		t.Error("expected the parse failure recorded as last_error")
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	e, db, _ := setupTestEngine(t)
	ctx := context.Background()
	shipment := createShipment(t, db, "TRK-"+uuid.NewString()[:8])

	occurredAt := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)
	items := e.IngestBatch(ctx, []*normalizer.RawEvent{
		{TrackingCode: shipment.TrackingCode, OccurrenceCode: "80", OccurredAt: &occurredAt},
		{}, // no shipment identity at all
		{TrackingCode: shipment.TrackingCode, OccurrenceCode: "82", OccurredAt: &occurredAt},
	}, "ssw", nil)

	if len(items) != 3 {
		t.Fatalf("batch items = %d, want 3", len(items))
	}
	if items[0].Error != "" || items[0].Result.Outcome != IngestAccepted {
		t.Errorf("item 0 = %+v, want accepted", items[0])
	}
	if items[1].Error == "" {
		t.Error("item 1 should carry a validation error")
	}
	if items[2].Error != "" || items[2].Result.Outcome != IngestAccepted {
		t.Errorf("item 2 = %+v, want accepted", items[2])
	}
}

func TestIngestFiresAutomation(t *testing.T) {
	e, db, notifier := setupTestEngine(t)
	ctx := context.Background()
	shipment := createShipment(t, db, "TRK-"+uuid.NewString()[:8])

	rule := &models.AutomationRule{
		ID:              uuid.New(),
		Name:            "notify on delivery",
		TriggerStatuses: []models.CanonicalStatus{models.StatusDelivered},
		Actions:         []models.Action{{Kind: models.ActionNotify, Target: "ops-channel"}},
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	occurredAt := time.Date(2026, 3, 13, 15, 0, 0, 0, time.UTC)
	result, err := e.IngestRaw(ctx, &normalizer.RawEvent{
		TrackingCode:   shipment.TrackingCode,
		OccurrenceCode: "1",
		OccurredAt:     &occurredAt,
	}, "ssw", nil)
	if err != nil {
		t.Fatalf("IngestRaw failed: %v", err)
	}
	if result.Decision.NewStatus != models.StatusDelivered {
		t.Fatalf("new status = %q, want delivered", result.Decision.NewStatus)
	}

	if got := notifier.count.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}

	invocations, err := db.ListInvocationsByShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("ListInvocationsByShipment failed: %v", err)
	}
	if len(invocations) != 1 {
		t.Fatalf("invocations = %d, want 1", len(invocations))
	}
	if invocations[0].CompletedAt == nil {
		t.Error("invocation should be completed")
	}
}
