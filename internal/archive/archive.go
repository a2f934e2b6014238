// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

/*
archive.go - Archival Sink

Best-effort mirror of accepted events into BadgerDB, keyed by shipment and
event id. The sink runs fully off the critical path: ingestion enqueues and
returns immediately, a background worker writes with retry, and a full queue
or a failed write is logged and counted but never surfaces to the caller.
The archive is audit/analytics data only; status derivation never reads it.

Keys:
  - event:<event_id>             full normalized event JSON
  - shipment:<shipment_id>:<event_id>  index entry for per-shipment history
*/

//nolint:staticcheck // File documentation, not package doc
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mfvianna/shiptrace/internal/config"
	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
)

const (
	eventKeyPrefix    = "event:"
	shipmentKeyPrefix = "shipment:"
)

// Sink mirrors accepted events to BadgerDB asynchronously.
type Sink struct {
	db            *badger.DB
	queue         chan *models.TrackingEvent
	retryInterval time.Duration
}

// NewSink opens the archive database and prepares the write queue. Run must
// be started for writes to drain.
func NewSink(cfg *config.ArchiveConfig) (*Sink, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}

	return &Sink{
		db:            db,
		queue:         make(chan *models.TrackingEvent, queueSize),
		retryInterval: retryInterval,
	}, nil
}

// Enqueue hands an accepted event to the sink. Never blocks: when the queue
// is full the event is dropped from the archive (not from the primary store)
// and the drop is logged and counted.
func (s *Sink) Enqueue(event *models.TrackingEvent) {
	select {
	case s.queue <- event:
		metrics.ArchiveQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.RecordArchiveWrite("dropped")
		logging.Warn().
			Str("event_id", event.ID.String()).
			Msg("Archive queue full, event not mirrored")
	}
}

// Serve drains the queue until ctx is canceled. Implements suture.Service.
func (s *Sink) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-s.queue:
			s.writeWithRetry(ctx, event)
			metrics.ArchiveQueueDepth.Set(float64(len(s.queue)))
		}
	}
}

// String names the service in supervision logs.
func (s *Sink) String() string { return "archive-sink" }

// writeWithRetry retries a failed archival write once after the configured
// interval. Failures are logged and counted, never escalated.
func (s *Sink) writeWithRetry(ctx context.Context, event *models.TrackingEvent) {
	err := s.write(event)
	if err == nil {
		metrics.RecordArchiveWrite("ok")
		return
	}
	logging.Warn().Err(err).
		Str("event_id", event.ID.String()).
		Msg("Archive write failed, retrying once")

	select {
	case <-ctx.Done():
		metrics.RecordArchiveWrite("failed")
		return
	case <-time.After(s.retryInterval):
	}

	if err := s.write(event); err != nil {
		metrics.RecordArchiveWrite("failed")
		logging.Error().Err(err).
			Str("event_id", event.ID.String()).
			Msg("Archive write failed after retry, event not mirrored")
		return
	}
	metrics.RecordArchiveWrite("ok")
}

func (s *Sink) write(event *models.TrackingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		eventKey := []byte(eventKeyPrefix + event.ID.String())
		if err := txn.Set(eventKey, data); err != nil {
			return fmt.Errorf("failed to set event key: %w", err)
		}

		indexKey := []byte(shipmentKeyPrefix + event.ShipmentID.String() + ":" + event.ID.String())
		if err := txn.Set(indexKey, []byte(event.ID.String())); err != nil {
			return fmt.Errorf("failed to set shipment index: %w", err)
		}
		return nil
	})
}

// GetEvent reads one archived event. Used by audit tooling and tests only.
func (s *Sink) GetEvent(id uuid.UUID) (*models.TrackingEvent, error) {
	var event models.TrackingEvent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventKeyPrefix + id.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read archived event: %w", err)
	}
	return &event, nil
}

// ListShipmentHistory returns all archived event ids of a shipment.
func (s *Sink) ListShipmentHistory(shipmentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	prefix := []byte(shipmentKeyPrefix + shipmentID.String() + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				id, err := uuid.Parse(string(val))
				if err != nil {
					return fmt.Errorf("failed to parse archived event id: %w", err)
				}
				ids = append(ids, id)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list shipment history: %w", err)
	}
	return ids, nil
}

// Close flushes and closes the archive database.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}
	return nil
}
