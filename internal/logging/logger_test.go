// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: true})

		Info().Str("key", "value").Msg("test message")

		out := buf.String()
		if !strings.Contains(out, `"key":"value"`) {
			t.Errorf("Expected structured field in output, got %s", out)
		}
		if !strings.Contains(out, `"message":"test message"`) {
			t.Errorf("Expected message in output, got %s", out)
		}
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "warn", Format: "json", Output: &buf})

		Debug().Msg("should not appear")
		Warn().Msg("should appear")

		out := buf.String()
		if strings.Contains(out, "should not appear") {
			t.Error("Debug message logged despite warn level")
		}
		if !strings.Contains(out, "should appear") {
			t.Error("Warn message missing")
		}
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		if got := parseLevel("bogus"); got != zerolog.InfoLevel {
			t.Errorf("Expected info level, got %v", got)
		}
	})
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithShipmentID(ctx, "shp-456")

	Ctx(ctx).Info().Msg("with context")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-123"`) {
		t.Errorf("Expected request_id in output, got %s", out)
	}
	if !strings.Contains(out, `"shipment_id":"shp-456"`) {
		t.Errorf("Expected shipment_id in output, got %s", out)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	logger := slog.New(NewSlogHandler())
	logger.Info("supervisor event", slog.String("service", "http-server"))

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("Expected message in output, got %s", out)
	}
	if !strings.Contains(out, `"service":"http-server"`) {
		t.Errorf("Expected slog attr translated to zerolog field, got %s", out)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	logger := slog.New(NewSlogHandler()).WithGroup("engine")
	logger.Warn("restart", slog.Int("attempt", 2))

	out := buf.String()
	if !strings.Contains(out, `"engine.attempt":2`) {
		t.Errorf("Expected grouped attr key, got %s", out)
	}
}
