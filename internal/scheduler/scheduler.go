// Package scheduler drives periodic export batches in continuous mode.
package scheduler

import (
	"context"
	"time"

	"github.com/blockedby/channel-archiver/internal/checkpoint"
	"github.com/blockedby/channel-archiver/internal/coordinator"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
)

// BatchExporter runs one export batch over a channel roster.
type BatchExporter interface {
	ExportBatch(ctx context.Context, channels []models.ChannelRef, session *coordinator.ExportSession) error
}

// RosterFunc re-reads the channel roster; called before every tick so
// roster edits take effect without a restart.
type RosterFunc func() ([]models.ChannelRef, error)

// Runner triggers export batches on a fixed interval. Cancellation is
// polled between channels by the coordinator; the runner itself stops at
// the next tick boundary.
type Runner struct {
	exporter   BatchExporter
	store      *checkpoint.Store
	roster     RosterFunc
	interval   time.Duration
	staleAfter time.Duration
	log        *logger.Logger

	onSession func(coordinator.Snapshot) // optional, used by the status api
}

// NewRunner creates a continuous-mode runner.
func NewRunner(exporter BatchExporter, store *checkpoint.Store, roster RosterFunc, interval, staleAfter time.Duration) *Runner {
	return &Runner{
		exporter:   exporter,
		store:      store,
		roster:     roster,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger.Get(),
	}
}

// SetSessionCallback registers a hook receiving each finished session's
// counters.
func (r *Runner) SetSessionCallback(fn func(coordinator.Snapshot)) {
	r.onSession = fn
}

// Run blocks until ctx is cancelled, exporting the full roster every
// interval. The first batch starts immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().
		Dur("interval", r.interval).
		Dur("stale_after", r.staleAfter).
		Msg("scheduler: continuous mode started")

	for {
		r.runBatch(ctx)

		select {
		case <-time.After(r.interval):
		case <-ctx.Done():
			r.log.Info().Msg("scheduler: stopping")
			return ctx.Err()
		}
	}
}

func (r *Runner) runBatch(ctx context.Context) {
	channels, err := r.roster()
	if err != nil {
		r.log.Error().Err(err).Msg("scheduler: cannot load channel roster, skipping tick")
		return
	}
	if len(channels) == 0 {
		r.log.Warn().Msg("scheduler: empty channel roster, nothing to do")
		return
	}

	r.resetStale(channels)

	session := coordinator.NewSession()
	start := time.Now()
	if err := r.exporter.ExportBatch(ctx, channels, session); err != nil {
		r.log.Warn().Err(err).Msg("scheduler: batch interrupted")
	}

	snap := session.Snapshot()
	r.log.Info().
		Str("session_id", snap.ID).
		Int("processed", snap.ChannelsProcessed).
		Int("failed", snap.ChannelsFailed).
		Int("new_messages", snap.NewMessages).
		Int("downloaded", snap.DownloadedFiles).
		Dur("took", time.Since(start)).
		Msg("scheduler: batch complete")

	if r.onSession != nil {
		r.onSession(snap)
	}
}

// resetStale drops checkpoints that have not been checked within
// staleAfter, so those channels get a fresh full export instead of an
// incremental pass over a possibly drifted archive.
func (r *Runner) resetStale(channels []models.ChannelRef) {
	if r.staleAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.staleAfter)
	for _, ref := range channels {
		cp, err := r.store.Load(ref.ID)
		if err != nil || cp == nil {
			continue
		}
		if cp.LastCheck.Before(cutoff) {
			r.log.Info().
				Str("channel", ref.Title).
				Time("last_check", cp.LastCheck).
				Msg("scheduler: checkpoint stale, forcing full export")
			if err := r.store.Reset(ref.ID); err != nil {
				r.log.Error().Err(err).Int64("channel_id", ref.ID).Msg("scheduler: checkpoint reset failed")
			}
		}
	}
}
