// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
bus.go - In-Process Event Bus

Watermill gochannel pub/sub decoupling the ingestion path from its
asynchronous consumers. Accepted events are published once; the archival
sink and the optional NATS JetStream mirror subscribe independently, so a
slow consumer never backpressures ingestion past the channel buffer.

Topics:
  - events.accepted: every accepted (non-duplicate) tracking event
  - status.transitions: every applied status transition
*/

//nolint:staticcheck // File documentation, not package doc
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
)

const (
	// TopicEventsAccepted carries accepted tracking events.
	TopicEventsAccepted = "events.accepted"

	// TopicStatusTransitions carries applied status transitions.
	TopicStatusTransitions = "status.transitions"
)

// Bus is the in-process pub/sub fabric.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// New creates the bus with a bounded per-subscriber buffer.
func New() *Bus {
	logger := watermill.NewStdLogger(false, false)
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
		}, logger),
		logger: logger,
	}
}

// PublishEvent publishes an accepted event to TopicEventsAccepted.
func (b *Bus) PublishEvent(event *models.TrackingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID.String(), payload)
	msg.Metadata.Set("shipment_id", event.ShipmentID.String())
	if err := b.pubsub.Publish(TopicEventsAccepted, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.BusMessagesPublished.WithLabelValues(TopicEventsAccepted).Inc()
	return nil
}

// PublishTransition publishes an applied transition to
// TopicStatusTransitions.
func (b *Bus) PublishTransition(tc *models.TransitionContext) error {
	payload, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("shipment_id", tc.ShipmentID.String())
	if err := b.pubsub.Publish(TopicStatusTransitions, msg); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	metrics.BusMessagesPublished.WithLabelValues(TopicStatusTransitions).Inc()
	return nil
}

// Subscribe returns a channel of messages for the given topic. Each call
// creates an independent subscription; consumers must Ack every message.
func (b *Bus) Subscribe(topic string) (<-chan *message.Message, error) {
	messages, err := b.pubsub.Subscribe(context.Background(), topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return messages, nil
}

// Close shuts the bus down; pending messages are dropped.
func (b *Bus) Close() error {
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close bus: %w", err)
	}
	return nil
}

// Logger exposes the watermill logger for the NATS forwarder.
func (b *Bus) Logger() watermill.LoggerAdapter {
	return b.logger
}
