// Package coordinator orchestrates per-channel export cycles: mode
// selection, fetching, filtering, media acquisition, sink writes,
// checkpointing and verification.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blockedby/channel-archiver/internal/checkpoint"
	"github.com/blockedby/channel-archiver/internal/export"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
	"github.com/blockedby/channel-archiver/internal/publisher"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// Source provides message listing and counting for one channel.
type Source interface {
	ResolveChannel(ctx context.Context, ref models.ChannelRef) (*telegram.Channel, error)
	ListSince(ctx context.Context, ch *telegram.Channel, minID int) ([]telegram.FetchedMessage, error)
	CountAll(ctx context.Context, ch *telegram.Channel) (int64, error)
}

// Acquirer downloads media tasks, returning resolved paths by message id.
type Acquirer interface {
	Acquire(ctx context.Context, tasks []models.DownloadTask) map[int]string
}

// ContentFilter classifies message text as archivable or filtered.
type ContentFilter interface {
	Classify(text string) (filtered bool, reason string)
}

// Notifier delivers export status notices. All methods are fire-and-forget.
type Notifier interface {
	NotifySuccess(ctx context.Context, channelTitle string, newMessages int)
	NotifyNoNew(ctx context.Context, channelTitle string)
	NotifyFailure(ctx context.Context, channelTitle string, reason error)
}

// EventPublisher emits export completion events to the message bus.
type EventPublisher interface {
	PublishChannelExported(ctx context.Context, event publisher.ChannelExportedEvent) error
}

// Mode selects how a cycle treats existing progress.
type Mode string

// Cycle modes.
const (
	ModeIncremental  Mode = "incremental"
	ModeFullReexport Mode = "full_reexport"
)

// Config tunes the coordinator's retry and pacing behavior.
type Config struct {
	BaseDir         string
	InterChannelGap time.Duration
	MaxCycleRetries int           // flood-triggered retries of a whole cycle
	MaxReexports    int           // verification-triggered re-export cap
	FloodWaitCap    time.Duration // upper bound on honoring a signaled cooldown
}

// DefaultConfig returns the standard retry bounds.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:         baseDir,
		InterChannelGap: 500 * time.Millisecond,
		MaxCycleRetries: 3,
		MaxReexports:    3,
		FloodWaitCap:    5 * time.Minute,
	}
}

// Coordinator runs export cycles strictly one channel at a time, so the
// checkpoint store and sink files are single-writer by construction.
type Coordinator struct {
	source   Source
	filter   ContentFilter
	engine   Acquirer
	store    *checkpoint.Store
	notifier Notifier       // optional
	pub      EventPublisher // optional
	cfg      Config
	log      *logger.Logger

	// sleep is swappable so tests do not wait out real cooldowns
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a coordinator. notifier and pub may be nil.
func New(source Source, filter ContentFilter, engine Acquirer, store *checkpoint.Store, notifier Notifier, pub EventPublisher, cfg Config) *Coordinator {
	if cfg.MaxCycleRetries < 1 {
		cfg.MaxCycleRetries = 1
	}
	return &Coordinator{
		source:   source,
		filter:   filter,
		engine:   engine,
		store:    store,
		notifier: notifier,
		pub:      pub,
		cfg:      cfg,
		log:      logger.Get(),
		sleep:    sleepCtx,
	}
}

// ExportBatch processes channels sequentially. One channel's failure never
// aborts the rest; the caller reads failure counts from the session.
func (c *Coordinator) ExportBatch(ctx context.Context, channels []models.ChannelRef, session *ExportSession) error {
	for i, ref := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.ExportChannel(ctx, ref, session); err != nil {
			c.log.Error().Err(err).Str("channel", ref.Title).Msg("coordinator: channel export failed")
		}
		if i < len(channels)-1 && c.cfg.InterChannelGap > 0 {
			if !c.sleep(ctx, c.cfg.InterChannelGap) {
				return ctx.Err()
			}
		}
	}
	return nil
}

// ExportChannel runs one channel's full export-and-verify loop. On
// verification mismatch the cycle is re-run as a forced full re-export, at
// most MaxReexports times; a still-failing verification is logged and left
// for the next run.
func (c *Coordinator) ExportChannel(ctx context.Context, ref models.ChannelRef, session *ExportSession) error {
	force := false
	for attempt := 0; attempt <= c.cfg.MaxReexports; attempt++ {
		res, err := c.runCycleWithFloodRetry(ctx, ref, session, force)
		if err != nil {
			session.ChannelFailed()
			if c.notifier != nil {
				c.notifier.NotifyFailure(ctx, ref.Title, err)
			}
			return err
		}

		observed, matches := c.verify(res)
		if matches {
			c.finishChannel(ctx, ref, session, res)
			return nil
		}

		if attempt == c.cfg.MaxReexports {
			break
		}

		session.Reexport()
		c.log.Warn().
			Str("channel", res.title).
			Int("observed", observed).
			Int64("expected", res.total).
			Int("attempt", attempt+1).
			Msg("coordinator: verification mismatch, forcing full re-export")
		if err := c.store.Reset(ref.ID); err != nil {
			c.log.Error().Err(err).Int64("channel_id", ref.ID).Msg("coordinator: checkpoint reset failed")
		}
		force = true
	}

	c.log.Error().
		Str("channel", ref.Title).
		Int("max_reexports", c.cfg.MaxReexports).
		Msg("coordinator: verification permanently failed for this run")
	session.ChannelFailed()
	return nil
}

// runCycleWithFloodRetry retries the whole cycle on a provider throttling
// signal, honoring the signaled cooldown up to FloodWaitCap.
func (c *Coordinator) runCycleWithFloodRetry(ctx context.Context, ref models.ChannelRef, session *ExportSession, force bool) (*cycleResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxCycleRetries; attempt++ {
		res, err := c.runCycle(ctx, ref, session, force)
		if err == nil {
			return res, nil
		}

		wait := telegram.FloodWaitSeconds(err)
		if wait == 0 {
			return nil, err
		}
		lastErr = err

		cooldown := time.Duration(wait) * time.Second
		if cooldown > c.cfg.FloodWaitCap {
			cooldown = c.cfg.FloodWaitCap
		}
		c.log.Warn().
			Str("channel", ref.Title).
			Dur("cooldown", cooldown).
			Int("attempt", attempt).
			Msg("coordinator: cycle throttled, waiting before retry")
		if !c.sleep(ctx, cooldown) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("cycle retries exhausted: %w", lastErr)
}

// cycleResult carries what verification and notification need.
type cycleResult struct {
	title       string
	dir         string
	canonical   *export.MarkdownSink
	channelID   int64
	newMessages int
	downloaded  int
	total       int64
}

// runCycle executes one pass of the state machine. Any error return leaves
// the checkpoint untouched.
func (c *Coordinator) runCycle(ctx context.Context, ref models.ChannelRef, session *ExportSession, force bool) (*cycleResult, error) {
	ch, err := c.source.ResolveChannel(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %q: %w", ref.Title, err)
	}

	title := ch.Title
	if title == "" {
		title = ref.Title
	}
	dir := filepath.Join(c.cfg.BaseDir, models.SanitizeFilename(title))
	sinks := export.NewAll(dir, title)
	canonical := export.NewMarkdownSink(dir, title)

	// DetermineMode
	cp, err := c.store.Load(ref.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("channel", title).Msg("coordinator: unreadable checkpoint, forcing full re-export")
		cp = nil
	}
	mode := ModeIncremental
	minID := 0
	switch {
	case force || cp == nil:
		mode = ModeFullReexport
	default:
		if _, statErr := os.Stat(canonical.Path()); os.IsNotExist(statErr) {
			c.log.Info().Str("channel", title).Msg("coordinator: canonical sink missing, forcing full re-export")
			mode = ModeFullReexport
		} else {
			minID = int(cp.LastMessageID)
		}
	}

	if mode == ModeFullReexport {
		serverTotal, err := c.source.CountAll(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("count messages for %q: %w", title, err)
		}
		c.log.Info().Str("channel", title).Int64("server_total", serverTotal).Msg("coordinator: starting full re-export")
	}

	// Fetching
	fetched, err := c.source.ListSince(ctx, ch, minID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %q: %w", title, err)
	}

	// Filtering and Queuing
	var (
		records  []models.MessageRecord
		tasks    []models.DownloadTask
		filtered int
	)
	for _, fm := range fetched {
		if drop, reason := c.filter.Classify(fm.Record.Text); drop {
			filtered++
			c.log.Debug().Int("message_id", fm.Record.ID).Str("reason", reason).Msg("coordinator: message filtered")
			continue
		}

		rec := fm.Record
		if fm.Media != nil && ref.Export != models.ExportMessagesOnly {
			task := *fm.Media
			name := models.MediaFilename(task.MessageID, task.Kind, task.Ext)
			task.TargetPath = filepath.Join(dir, "media", name)
			rec.MediaPath = "media/" + name
			tasks = append(tasks, task)
		}
		records = append(records, rec)
	}
	session.AddFiltered(filtered)

	// Downloading
	downloaded := 0
	if len(tasks) > 0 {
		results := c.engine.Acquire(ctx, tasks)
		downloaded = len(results)
		var bytes int64
		for _, path := range results {
			if info, statErr := os.Stat(path); statErr == nil {
				bytes += info.Size()
			}
		}
		for i := range records {
			if records[i].MediaPath == "" {
				continue
			}
			if _, ok := results[records[i].ID]; !ok {
				// no file on disk means no reference in the archive
				records[i].ClearMedia()
			}
		}
		session.AddDownloaded(downloaded)
		session.AddDownloadedBytes(bytes)
		session.AddFailedDownloads(len(tasks) - downloaded)
	}

	if ref.Export == models.ExportFilesOnly {
		kept := records[:0]
		for _, rec := range records {
			if rec.HasMedia() && rec.MediaPath != "" {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	// Writing
	appendMode := mode == ModeIncremental
	if len(records) == 0 {
		// nothing new; still make sure the sink files exist
		if _, statErr := os.Stat(canonical.Path()); os.IsNotExist(statErr) {
			for _, s := range sinks {
				if _, werr := s.Write(nil, false); werr != nil {
					c.log.Error().Err(werr).Str("sink", s.Name()).Msg("coordinator: bootstrap write failed")
				}
			}
		}
	} else {
		written := 0
		for _, s := range sinks {
			if _, werr := s.Write(records, appendMode); werr != nil {
				c.log.Error().Err(werr).Str("sink", s.Name()).Str("channel", title).Msg("coordinator: sink write failed")
			} else {
				written++
			}
		}
		if written == 0 {
			return nil, fmt.Errorf("all sinks failed for %q", title)
		}
	}
	session.AddNewMessages(len(records))

	// checkpoint moves only after a successful write
	lastID := int64(0)
	var total int64
	if mode == ModeIncremental && cp != nil {
		lastID = cp.LastMessageID
		total = cp.TotalMessages
	}
	for _, fm := range fetched {
		if int64(fm.Record.ID) > lastID {
			lastID = int64(fm.Record.ID)
		}
	}
	total += int64(len(records))

	if err := c.store.Save(&models.ChannelCheckpoint{
		ChannelID:     ref.ID,
		LastMessageID: lastID,
		TotalMessages: total,
	}); err != nil {
		return nil, fmt.Errorf("save checkpoint for %q: %w", title, err)
	}

	c.log.Info().
		Str("channel", title).
		Str("mode", string(mode)).
		Int("fetched", len(fetched)).
		Int("filtered", filtered).
		Int("written", len(records)).
		Int("downloaded", downloaded).
		Int64("last_message_id", lastID).
		Msg("coordinator: cycle complete")

	return &cycleResult{
		title:       title,
		dir:         dir,
		canonical:   canonical,
		channelID:   ref.ID,
		newMessages: len(records),
		downloaded:  downloaded,
		total:       total,
	}, nil
}

// finishChannel handles post-verification bookkeeping and notices.
func (c *Coordinator) finishChannel(ctx context.Context, ref models.ChannelRef, session *ExportSession, res *cycleResult) {
	session.ChannelProcessed()

	if c.notifier != nil {
		if res.newMessages > 0 {
			c.notifier.NotifySuccess(ctx, res.title, res.newMessages)
		} else {
			c.notifier.NotifyNoNew(ctx, res.title)
		}
	}

	if c.pub != nil {
		event := publisher.ChannelExportedEvent{
			ChannelID:     res.channelID,
			Title:         res.title,
			NewMessages:   res.newMessages,
			TotalMessages: res.total,
			SessionID:     session.ID,
			CompletedAt:   time.Now().UTC(),
		}
		if err := c.pub.PublishChannelExported(ctx, event); err != nil {
			c.log.Warn().Err(err).Str("channel", res.title).Msg("coordinator: event publish failed")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
