// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mfvianna/shiptrace/internal/bus"
	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/dispatcher"
	"github.com/mfvianna/shiptrace/internal/engine"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/normalizer"
	"github.com/mfvianna/shiptrace/internal/registry"
	"github.com/mfvianna/shiptrace/internal/statemachine"
	"github.com/mfvianna/shiptrace/internal/store"
	"github.com/mfvianna/shiptrace/internal/timeline"
)

// testDBSemaphore serializes DuckDB access across tests. Concurrent CGO
// connections can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

// setupTestAPI wires the full stack behind an HTTP handler.
func setupTestAPI(t *testing.T) http.Handler {
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

	reg := registry.NewBuiltin()
	if err := db.SeedOccurrenceCodes(t.Context(), reg.All()); err != nil {
		t.Fatalf("Failed to seed occurrence codes: %v", err)
	}

	d := dispatcher.New(db, dispatcher.NewLogNotifier(), &config.DispatcherConfig{
		ActionTimeout:       5 * time.Second,
		BreakerMaxFailures:  3,
		BreakerOpenInterval: time.Second,
	})
	e := engine.New(db, normalizer.New(reg, db), statemachine.New(db), d, b, nil,
		&config.ReplayConfig{MaxAge: 48 * time.Hour, Interval: time.Minute})

	apiCfg := &config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100}
	handler := NewHandler(e, db, timeline.NewBuilder(db), reg, apiCfg)
	return NewRouter(handler, apiCfg).Setup()
}

// doJSON performs a request with a JSON body and decodes the envelope.
func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var envelope APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, envelope
}

// dataField re-decodes the envelope's data into out.
func dataField(t *testing.T, envelope APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("Failed to re-encode data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("Failed to decode data field: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodGet, "/api/v1/health/", nil)
	if code != http.StatusOK || !envelope.Success {
		t.Fatalf("health = %d %+v, want 200 success", code, envelope)
	}

	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/health/live", nil)
	if code != http.StatusOK {
		t.Fatalf("live = %d, want 200", code)
	}
}

func TestShipmentAndEventFlow(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodPost, "/api/v1/shipments/", map[string]string{
		"tracking_code": "TRK-API-1",
		"carrier":       "ssw",
	})
	if code != http.StatusCreated {
		t.Fatalf("create shipment = %d %+v, want 201", code, envelope)
	}
	var shipment models.Shipment
	dataField(t, envelope, &shipment)
	if shipment.CurrentStatus != models.StatusCreated {
		t.Errorf("initial status = %q, want created", shipment.CurrentStatus)
	}

	code, envelope = doJSON(t, h, http.MethodPost, "/api/v1/events/ssw", map[string]interface{}{
		"tracking_code":   "TRK-API-1",
		"occurrence_code": "80",
		"occurred_at":     "2026-04-01T10:00:00Z",
	})
	if code != http.StatusCreated {
		t.Fatalf("ingest = %d %+v, want 201", code, envelope)
	}

	code, envelope = doJSON(t, h, http.MethodPost, "/api/v1/events/ssw", map[string]interface{}{
		"tracking_code":   "TRK-API-1",
		"occurrence_code": "1",
		"occurred_at":     "2026-04-02T14:00:00Z",
	})
	if code != http.StatusCreated {
		t.Fatalf("ingest delivered = %d %+v, want 201", code, envelope)
	}

	code, envelope = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/shipments/%s/", shipment.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("get shipment = %d, want 200", code)
	}
	var current models.Shipment
	dataField(t, envelope, &current)
	if current.CurrentStatus != models.StatusDelivered {
		t.Errorf("status = %q, want delivered", current.CurrentStatus)
	}
	if current.CurrentStatusVersion != 2 {
		t.Errorf("version = %d, want 2", current.CurrentStatusVersion)
	}

	code, envelope = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/shipments/%s/timeline", shipment.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("timeline = %d, want 200", code)
	}
	var tl timeline.Timeline
	dataField(t, envelope, &tl)
	if len(tl.Entries) != 2 {
		t.Fatalf("timeline entries = %d, want 2", len(tl.Entries))
	}
	if tl.EffectiveStatus != models.StatusDelivered {
		t.Errorf("effective status = %q, want delivered", tl.EffectiveStatus)
	}
}

func TestIngestUnknownShipmentReturnsAccepted(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodPost, "/api/v1/events/ssw", map[string]interface{}{
		"tracking_code":   "TRK-NOBODY",
		"occurrence_code": "80",
		"occurred_at":     "2026-04-01T10:00:00Z",
	})
	if code != http.StatusAccepted {
		t.Fatalf("ingest unknown = %d %+v, want 202", code, envelope)
	}
	var result engine.IngestResult
	dataField(t, envelope, &result)
	if result.Outcome != engine.IngestQueued {
		t.Errorf("outcome = %q, want queued", result.Outcome)
	}
}

func TestIngestRejectsMissingIdentity(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodPost, "/api/v1/events/ssw", map[string]interface{}{
		"occurrence_code": "80",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("ingest without identity = %d, want 400", code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want validation failure", envelope.Error)
	}
}

func TestBatchIngest(t *testing.T) {
	h := setupTestAPI(t)

	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/shipments/", map[string]string{
		"tracking_code": "TRK-BATCH-1",
		"carrier":       "ssw",
	})
	if code != http.StatusCreated {
		t.Fatalf("create shipment = %d, want 201", code)
	}

	code, envelope := doJSON(t, h, http.MethodPost, "/api/v1/events/ssw/batch", []map[string]interface{}{
		{"tracking_code": "TRK-BATCH-1", "occurrence_code": "80", "occurred_at": "2026-04-01T08:00:00Z"},
		{"occurrence_code": "80"}, // no identity, rejected
		{"tracking_code": "TRK-BATCH-1", "occurrence_code": "85", "occurred_at": "2026-04-01T12:00:00Z"},
	})
	if code != http.StatusOK {
		t.Fatalf("batch = %d %+v, want 200", code, envelope)
	}

	var data struct {
		Items []engine.BatchItem `json:"items"`
	}
	dataField(t, envelope, &data)
	if len(data.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(data.Items))
	}
	if data.Items[0].Error != "" || data.Items[0].Result.Outcome != engine.IngestAccepted {
		t.Errorf("item 0 = %+v, want accepted", data.Items[0])
	}
	if data.Items[1].Error == "" {
		t.Error("item 1 should be rejected")
	}
	if data.Items[2].Error != "" {
		t.Errorf("item 2 = %+v, want accepted", data.Items[2])
	}
}

func TestReviewQueues(t *testing.T) {
	h := setupTestAPI(t)

	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/shipments/", map[string]string{
		"tracking_code": "TRK-REVIEW-1",
		"carrier":       "ssw",
	})
	if code != http.StatusCreated {
		t.Fatalf("create shipment = %d, want 201", code)
	}

	// Unknown occurrence code is accepted but tagged for review.
	code, _ = doJSON(t, h, http.MethodPost, "/api/v1/events/ssw", map[string]interface{}{
		"tracking_code":   "TRK-REVIEW-1",
		"occurrence_code": "999",
		"occurred_at":     "2026-04-01T10:00:00Z",
	})
	if code != http.StatusCreated {
		t.Fatalf("ingest unknown code = %d, want 201", code)
	}

	code, envelope := doJSON(t, h, http.MethodGet, "/api/v1/review/events", nil)
	if code != http.StatusOK {
		t.Fatalf("review events = %d, want 200", code)
	}
	var events []models.TrackingEvent
	dataField(t, envelope, &events)
	if len(events) != 1 || events[0].OccurrenceCode != "999" {
		t.Fatalf("review events = %+v, want the unknown-code event", events)
	}
}

func TestRuleEndpoints(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodPost, "/api/v1/rules/", map[string]interface{}{
		"name":             "notify on exception",
		"trigger_statuses": []string{"exception"},
		"actions":          []map[string]string{{"kind": "notify", "target": "ops"}},
	})
	if code != http.StatusCreated {
		t.Fatalf("create rule = %d %+v, want 201", code, envelope)
	}
	var rule models.AutomationRule
	dataField(t, envelope, &rule)
	if !rule.Enabled {
		t.Error("new rule should default to enabled")
	}

	code, envelope = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("/api/v1/rules/%s/enable", rule.ID), map[string]bool{"enabled": false})
	if code != http.StatusOK {
		t.Fatalf("toggle rule = %d %+v, want 200", code, envelope)
	}

	code, envelope = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/rules/%s", rule.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("get rule = %d, want 200", code)
	}
	var got models.AutomationRule
	dataField(t, envelope, &got)
	if got.Enabled {
		t.Error("rule should be disabled after toggle")
	}

	// Rules without actions are rejected.
	code, _ = doJSON(t, h, http.MethodPost, "/api/v1/rules/", map[string]interface{}{
		"name":             "broken",
		"trigger_statuses": []string{"delivered"},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("invalid rule = %d, want 400", code)
	}
}

func TestOccurrenceCodesEndpoint(t *testing.T) {
	h := setupTestAPI(t)

	code, envelope := doJSON(t, h, http.MethodGet, "/api/v1/occurrence-codes", nil)
	if code != http.StatusOK {
		t.Fatalf("occurrence codes = %d, want 200", code)
	}
	var data struct {
		Count int `json:"count"`
	}
	dataField(t, envelope, &data)
	if data.Count == 0 {
		t.Error("expected seeded occurrence codes")
	}
}
