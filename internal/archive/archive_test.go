// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/models"
)

func setupTestSink(t *testing.T) *Sink {
	t.Helper()

	sink, err := NewSink(&config.ArchiveConfig{
		Enabled:       true,
		Path:          t.TempDir(),
		RetryInterval: 10 * time.Millisecond,
		QueueSize:     16,
	})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	t.Cleanup(func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	})
	return sink
}

func archiveEvent(shipmentID uuid.UUID) *models.TrackingEvent {
	return &models.TrackingEvent{
		ID:              uuid.New(),
		ShipmentID:      shipmentID,
		OccurrenceCode:  "82",
		CanonicalStatus: models.StatusInTransit,
		Source:          "ssw",
		OccurredAt:      time.Now().UTC(),
		ReceivedAt:      time.Now().UTC(),
		DedupKey:        uuid.NewString(),
		RawPayload:      []byte(`{"codigo":"82"}`),
	}
}

func TestSinkWriteAndRead(t *testing.T) {
	sink := setupTestSink(t)
	shipmentID := uuid.New()

	event := archiveEvent(shipmentID)
	if err := sink.write(event); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := sink.GetEvent(event.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got.DedupKey != event.DedupKey || got.ShipmentID != shipmentID {
		t.Fatalf("Archived event mismatch: %+v", got)
	}
	if string(got.RawPayload) != string(event.RawPayload) {
		t.Fatal("Raw payload not preserved")
	}
}

func TestSinkShipmentHistory(t *testing.T) {
	sink := setupTestSink(t)
	shipmentID := uuid.New()

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		event := archiveEvent(shipmentID)
		if err := sink.write(event); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		want = append(want, event.ID)
	}
	// Another shipment's events must not leak into the history.
	if err := sink.write(archiveEvent(uuid.New())); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ids, err := sink.ListShipmentHistory(shipmentID)
	if err != nil {
		t.Fatalf("ListShipmentHistory failed: %v", err)
	}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(ids))
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range want {
		if !seen[id] {
			t.Errorf("Event %s missing from history", id)
		}
	}
}

func TestSinkServeDrainsQueue(t *testing.T) {
	sink := setupTestSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sink.Serve(ctx) }()

	event := archiveEvent(uuid.New())
	sink.Enqueue(event)

	deadline := time.After(5 * time.Second)
	for {
		if _, err := sink.GetEvent(event.ID); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Event was not archived within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestSinkEnqueueNeverBlocks(t *testing.T) {
	sink := setupTestSink(t)

	// No Serve loop: fill the queue past capacity. Enqueue must return
	// immediately every time.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			sink.Enqueue(archiveEvent(uuid.New()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
