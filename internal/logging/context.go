// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// shipmentIDKey is the context key for the shipment being processed.
	shipmentIDKey contextKey = "shipment_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithShipmentID returns a new context carrying the shipment being
// processed, so every log line of a pipeline pass is attributable.
func ContextWithShipmentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, shipmentIDKey, id)
}

// ShipmentIDFromContext retrieves the shipment ID from context.
func ShipmentIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(shipmentIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with context values (request_id, shipment_id)
// automatically attached. This is the recommended way to log inside handlers
// and pipeline stages.
//
//	logging.Ctx(ctx).Info().Msg("Event accepted")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := Logger()

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}
	if shipmentID := ShipmentIDFromContext(ctx); shipmentID != "" {
		contextLogger = contextLogger.With().Str("shipment_id", shipmentID).Logger()
	}

	return &contextLogger
}
