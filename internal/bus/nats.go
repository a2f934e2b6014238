// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
nats.go - Optional JetStream Mirror

When nats.enabled is set, accepted events are forwarded from the in-process
bus to a NATS JetStream stream so external consumers (analytics, carrier
reconciliation jobs) can read them without touching the primary store. The
mirror is an outbound tap only; the engine never reads it back.

Single-instance deploys can run the embedded server (nats.embedded_server)
instead of pointing at an external cluster.
*/

//nolint:staticcheck // File documentation, not package doc
package bus

import (
	"context"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/logging"
)

// EmbeddedServer wraps a NATS JetStream server for single-instance deploys.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts an in-process NATS server with JetStream enabled.
func NewEmbeddedServer(cfg *config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "shiptrace-events",
		Port:       -1, // random free port
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// Shutdown stops the server and waits for it to drain.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}

// Forwarder copies accepted events from the in-process bus to JetStream.
type Forwarder struct {
	bus       *Bus
	publisher message.Publisher
	subject   string
}

// NewForwarder connects to NATS and provisions the mirror stream.
func NewForwarder(b *Bus, cfg *config.NATSConfig, url string) (*Forwarder, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if err := provisionStream(url, cfg, natsOpts); err != nil {
		return nil, err
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true, // dedup re-forwarded events on the broker side
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, b.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	return &Forwarder{bus: b, publisher: pub, subject: cfg.Subject}, nil
}

// provisionStream creates the mirror stream if it does not exist.
func provisionStream(url string, cfg *config.NATSConfig, natsOpts []natsgo.Option) error {
	nc, err := natsgo.Connect(url, natsOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.StreamInfo(cfg.StreamName)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&natsgo.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.Subject},
		Retention: natsgo.LimitsPolicy,
		Storage:   natsgo.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to provision stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// Serve forwards accepted events until ctx is canceled. Implements
// suture.Service.
func (f *Forwarder) Serve(ctx context.Context) error {
	messages, err := f.bus.Subscribe(TopicEventsAccepted)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := f.publisher.Publish(f.subject, msg); err != nil {
				logging.Error().Err(err).
					Str("message_id", msg.UUID).
					Msg("Failed to mirror event to JetStream")
				// The mirror is best effort; ack so the bus keeps moving.
			}
			msg.Ack()
		}
	}
}

// String names the service in supervision logs.
func (f *Forwarder) String() string { return "nats-forwarder" }

// Close releases the NATS publisher.
func (f *Forwarder) Close() error {
	if err := f.publisher.Close(); err != nil {
		return fmt.Errorf("failed to close NATS publisher: %w", err)
	}
	return nil
}
