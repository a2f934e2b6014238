// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package engine

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/metrics"
	"github.com/mfvianna/shiptrace/internal/models"
	"github.com/mfvianna/shiptrace/internal/normalizer"
)

// replayBatchSize bounds how many pending events one sweep attempts.
const replayBatchSize = 200

// Sweeper periodically replays pending events whose shipment may have
// appeared since they were parked. Runs under the supervision tree.
type Sweeper struct {
	engine *Engine
}

// NewSweeper creates the replay sweeper for the given engine.
func NewSweeper(e *Engine) *Sweeper {
	return &Sweeper{engine: e}
}

// Serve sweeps on the configured interval and on explicit kicks until ctx is
// canceled. Implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.engine.replayCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.engine.kick:
		}
		s.engine.sweepReplay(ctx)
	}
}

// String names the service in supervision logs.
func (s *Sweeper) String() string { return "replay-sweeper" }

// sweepReplay expires aged-out entries, retries the rest, and refreshes the
// queue depth gauge.
func (e *Engine) sweepReplay(ctx context.Context) {
	expired, err := e.store.ExpirePending(ctx, e.replayCfg.MaxAge)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to expire pending events")
	} else if expired > 0 {
		metrics.ReplayExpired.Add(float64(expired))
		logging.Ctx(ctx).Warn().
			Int64("count", expired).
			Dur("max_age", e.replayCfg.MaxAge).
			Msg("Pending events moved to manual review")
	}

	pending, err := e.store.ListQueuedPending(ctx, replayBatchSize)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to list pending events")
		return
	}

	for _, p := range pending {
		e.replayOne(ctx, p)
	}

	depth, err := e.store.CountQueuedPending(ctx)
	if err == nil {
		metrics.ReplayQueueDepth.Set(float64(depth))
	}
}

// replayOne retries a single pending event. Still-unresolved events bump
// their attempt counter and stay queued; anything else that fails is recorded
// as the entry's last error.
func (e *Engine) replayOne(ctx context.Context, p *models.PendingEvent) {
	var raw normalizer.RawEvent
	if err := json.Unmarshal(p.RawPayload, &raw); err != nil {
		// An unparseable payload will never replay; route it to a human now
		// instead of re-parsing it every sweep until the window expires.
		if mErr := e.store.MarkPendingManualReview(ctx, p.ID, "unparseable payload: "+err.Error()); mErr != nil {
			logging.Ctx(ctx).Error().Err(mErr).
				Str("pending_id", p.ID.String()).
				Msg("Failed to route pending event to manual review")
			return
		}
		logging.Ctx(ctx).Warn().
			Str("pending_id", p.ID.String()).
			Msg("Unparseable pending payload moved to manual review")
		return
	}

	result, err := e.ingest(ctx, &raw, p.Source, p.RawPayload, false)
	if err != nil {
		if mErr := e.store.MarkPendingAttempt(ctx, p.ID, err.Error()); mErr != nil {
			logging.Ctx(ctx).Error().Err(mErr).
				Str("pending_id", p.ID.String()).
				Msg("Failed to record replay attempt")
		}
		return
	}

	if err := e.store.DeletePending(ctx, p.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("pending_id", p.ID.String()).
			Msg("Failed to remove replayed pending event")
		return
	}

	metrics.ReplayResolved.Inc()
	logging.Ctx(ctx).Info().
		Str("pending_id", p.ID.String()).
		Str("outcome", string(result.Outcome)).
		Int("attempts", p.Attempts+1).
		Msg("Pending event replayed")
}
