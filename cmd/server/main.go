// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package main is the entry point for the Shiptrace server.
//
// Shiptrace ingests raw carrier tracking events, normalizes them against an
// occurrence code registry, and maintains an ordered status timeline per
// shipment. Status transitions feed an automation dispatcher that fires
// notification rules (log or webhook actions).
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings from defaults, YAML file, and
//     environment variables (Koanf v2)
//  2. Database: DuckDB store for shipments, events, rules, and invocations
//  3. Occurrence registry: built-in carrier codes seeded into the store,
//     then loaded back so operator-added codes take effect
//  4. Archive sink: BadgerDB append-only raw event archive (optional)
//  5. Event bus: in-process Watermill pub/sub, optionally mirrored to a
//     NATS JetStream subject (embedded or external server)
//  6. Ingestion engine, replay sweeper, and automation dispatcher
//  7. HTTP server: REST API under /api/v1 plus Prometheus /metrics
//
// All long-running components run under a suture supervision tree with
// data, pipeline, and api layers.
//
// # Configuration
//
// Environment variables use the SHIPTRACE_ prefix and override the config
// file, e.g. SHIPTRACE_SERVER_PORT=8744 maps to server.port. The config
// file path defaults to ./config.yaml and can be overridden with
// CONFIG_PATH.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, the archive sink flushes its queue, and the
// store closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mfvianna/shiptrace/internal/api"
	"github.com/mfvianna/shiptrace/internal/archive"
	"github.com/mfvianna/shiptrace/internal/bus"
	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/dispatcher"
	"github.com/mfvianna/shiptrace/internal/engine"
	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/normalizer"
	"github.com/mfvianna/shiptrace/internal/registry"
	"github.com/mfvianna/shiptrace/internal/statemachine"
	"github.com/mfvianna/shiptrace/internal/store"
	"github.com/mfvianna/shiptrace/internal/supervisor"
	"github.com/mfvianna/shiptrace/internal/timeline"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("archive", cfg.Archive.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting Shiptrace")

	db, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the built-in occurrence codes, then load the full set back so
	// codes added directly to the store survive restarts.
	if err := db.SeedOccurrenceCodes(ctx, registry.SeedCodes()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed occurrence codes")
	}
	codes, err := db.ListOccurrenceCodes(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load occurrence codes")
	}
	reg, err := registry.New(codes)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build occurrence registry")
	}
	logging.Info().Int("codes", reg.Len()).Msg("Occurrence registry loaded")

	var archiveSink *archive.Sink
	if cfg.Archive.Enabled {
		archiveSink, err = archive.NewSink(&cfg.Archive)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open event archive")
		}
		defer func() {
			if err := archiveSink.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event archive")
			}
		}()
	}

	eventBus := bus.New()
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// Optional NATS mirror. With embedded_server an in-process JetStream
	// server is started; otherwise the configured URL is used.
	var forwarder *bus.Forwarder
	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := bus.NewEmbeddedServer(&cfg.NATS)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer embedded.Shutdown()
			natsURL = embedded.ClientURL()
		}
		forwarder, err = bus.NewForwarder(eventBus, &cfg.NATS, natsURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS forwarder")
		}
		defer func() {
			if err := forwarder.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS forwarder")
			}
		}()
	}

	disp := dispatcher.New(db, dispatcher.NewLogNotifier(), &cfg.Dispatcher)
	eng := engine.New(db, normalizer.New(reg, db), statemachine.New(db),
		disp, eventBus, archiveSink, &cfg.Replay)

	handler := api.NewHandler(eng, db, timeline.NewBuilder(db), reg, &cfg.API)
	router := api.NewRouter(handler, &cfg.API)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if archiveSink != nil {
		tree.AddDataService(archiveSink)
	}
	tree.AddPipelineService(engine.NewSweeper(eng))
	if forwarder != nil {
		tree.AddPipelineService(forwarder)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	tree.AddAPIService(supervisor.NewHTTPService(addr, router.Setup(), cfg.Server.Timeout))
	logging.Info().Str("addr", addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Shiptrace stopped gracefully")
}
