// Package downloader implements the adaptive media acquisition engine.
//
// The provider's throttling is bursty and session-scoped, so static
// concurrency either wastes throughput or triggers cascading penalties. The
// engine runs a multiplicative-decrease/slow-linear-increase controller over
// both the worker count and the inter-request delay, tuned for stability.
package downloader

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// Fetcher performs one media download into a local file.
type Fetcher interface {
	Download(ctx context.Context, task models.DownloadTask, targetPath string) error
}

// Progress is reported after every completed batch.
type Progress struct {
	Completed   int
	Remaining   int
	FilesPerSec float64
	MBPerSec    float64
}

// ProgressFunc receives batch progress updates.
type ProgressFunc func(Progress)

// Config bounds the adaptive state for one acquisition session.
type Config struct {
	Workers    int           // starting worker count
	MaxWorkers int           // hard cap, state never exceeds it
	MinDelay   time.Duration // delay floor for the speed-up rule
	MaxDelay   time.Duration // delay ceiling for the backoff rule
	Timeout    time.Duration // per-attempt download timeout
}

// acquisitionState is the adaptive state for one session. Mutated under mu
// only; discarded when the session ends.
type acquisitionState struct {
	workers              int
	delay                time.Duration
	consecutiveSuccesses int
	lastThrottle         time.Time
	throttleCount        int
}

// Engine drains a download task list in concurrency- and delay-controlled
// batches. One Engine is safe for sequential reuse across channels; each
// Acquire call starts a fresh adaptive session.
type Engine struct {
	fetcher    Fetcher
	cfg        Config
	log        *logger.Logger
	onProgress ProgressFunc

	mu    sync.Mutex
	state acquisitionState

	// sleep is swappable so tests do not wait out real backoff intervals
	sleep func(ctx context.Context, d time.Duration) bool
}

var errEmptyFile = errors.New("downloaded file is empty")

// New creates an acquisition engine.
func New(fetcher Fetcher, cfg Config, onProgress ProgressFunc) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.Workers > cfg.MaxWorkers {
		cfg.Workers = cfg.MaxWorkers
	}
	return &Engine{
		fetcher:    fetcher,
		cfg:        cfg,
		log:        logger.Get(),
		onProgress: onProgress,
		sleep:      sleepCtx,
	}
}

// Acquire downloads every task's media and returns resolved local paths
// keyed by message id. A missing key means the task failed; the caller is
// expected to clear the message's media fields.
func (e *Engine) Acquire(ctx context.Context, tasks []models.DownloadTask) map[int]string {
	e.mu.Lock()
	e.state = acquisitionState{
		workers: e.cfg.Workers,
		delay:   e.cfg.MinDelay,
	}
	e.mu.Unlock()

	results := make(map[int]string, len(tasks))
	if len(tasks) == 0 {
		e.reportProgress(results, 0, time.Now(), 0)
		return results
	}

	var (
		resultsMu sync.Mutex
		start     = time.Now()
		bytesDone int64
	)

	record := func(task models.DownloadTask, path string) {
		resultsMu.Lock()
		results[task.MessageID] = path
		if fi, err := os.Stat(path); err == nil {
			bytesDone += fi.Size()
		}
		resultsMu.Unlock()
	}

	processed := 0
	for processed < len(tasks) {
		if ctx.Err() != nil {
			break
		}

		workers := e.currentWorkers()
		batchSize := workers * 2
		if batchSize < 5 {
			batchSize = 5
		}
		end := processed + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[processed:end]
		processed = end

		e.runBatch(ctx, batch, workers, e.cfg.Timeout, 1.0, record)
		e.reportProgress(results, len(tasks)-processed, start, bytesDone)
	}

	// one serial recovery pass over the stragglers, but only when the
	// failure rate suggests transient trouble rather than a broken channel
	failed := make([]models.DownloadTask, 0)
	for _, t := range tasks {
		if _, ok := results[t.MessageID]; !ok {
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 && float64(len(failed)) < 0.3*float64(len(tasks)) && ctx.Err() == nil {
		e.log.Info().Int("failed", len(failed)).Msg("downloader: running serial recovery pass")
		e.runBatch(ctx, failed, 1, e.cfg.Timeout*2, 2.0, record)
	}

	e.reportProgress(results, 0, start, bytesDone)

	e.mu.Lock()
	throttled := e.state.throttleCount
	e.mu.Unlock()
	e.log.Info().
		Int("tasks", len(tasks)).
		Int("resolved", len(results)).
		Int("throttle_signals", throttled).
		Msg("downloader: acquisition session complete")

	return results
}

// runBatch executes tasks under a semaphore sized to workers.
func (e *Engine) runBatch(ctx context.Context, batch []models.DownloadTask, workers int, timeout time.Duration, delayFactor float64, record func(models.DownloadTask, string)) {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, task := range batch {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task models.DownloadTask) {
			defer wg.Done()
			defer func() { <-sem }()
			if path, ok := e.runTask(ctx, task, timeout, delayFactor); ok {
				record(task, path)
			}
		}(task)
	}
	wg.Wait()
}

// runTask downloads one file with the per-task retry loop.
func (e *Engine) runTask(ctx context.Context, task models.DownloadTask, timeout time.Duration, delayFactor float64) (string, bool) {
	target := task.TargetPath

	// already on disk with content means a previous run got it
	if fi, err := os.Stat(target); err == nil && fi.Size() > 0 {
		return target, true
	}

	// desynchronize concurrent requests
	jitter := 0.8 + rand.Float64()*0.4
	if !e.sleep(ctx, time.Duration(float64(e.currentDelay())*jitter*delayFactor)) {
		return "", false
	}

	for attempt := 1; attempt <= 3; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := e.fetcher.Download(attemptCtx, task, target)
		cancel()

		if err == nil {
			fi, statErr := os.Stat(target)
			if statErr == nil && fi.Size() > 0 {
				e.onSuccess()
				return target, true
			}
			// zero-byte result is a failure, drop the partial file
			os.Remove(target)
			err = errEmptyFile
		}

		if ctx.Err() != nil {
			return "", false
		}

		switch {
		case telegram.IsFloodWait(err):
			cooldown := telegram.FloodWaitSeconds(err)
			e.onThrottle(cooldown)
			e.log.Warn().
				Int("message_id", task.MessageID).
				Int("cooldown_s", cooldown).
				Int("attempt", attempt).
				Msg("downloader: throttled")
			if !e.sleep(ctx, time.Duration(cooldown)*time.Second+randSeconds(1, 3)) {
				return "", false
			}
		case telegram.IsPermanent(err):
			e.log.Warn().
				Int("message_id", task.MessageID).
				Err(err).
				Msg("downloader: permanent error, task failed")
			return "", false
		case telegram.IsTimeout(err) || attemptCtxExpired(attemptCtx):
			e.log.Debug().Int("message_id", task.MessageID).Int("attempt", attempt).Msg("downloader: timeout")
			if !e.sleep(ctx, randSeconds(2, 5)) {
				return "", false
			}
		default:
			e.log.Debug().Int("message_id", task.MessageID).Int("attempt", attempt).Err(err).Msg("downloader: retrying")
			if !e.sleep(ctx, randSeconds(1, 4)) {
				return "", false
			}
		}
	}

	return "", false
}

// onThrottle applies the multiplicative-decrease rule.
func (e *Engine) onThrottle(cooldownSeconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.throttleCount++
	e.state.consecutiveSuccesses = 0
	e.state.lastThrottle = time.Now()

	factor := 1.5
	switch {
	case cooldownSeconds > 10:
		factor = 2.0
	case cooldownSeconds > 5:
		factor = 1.8
	}
	e.state.delay = time.Duration(float64(e.state.delay) * factor)
	if e.state.delay > e.cfg.MaxDelay {
		e.state.delay = e.cfg.MaxDelay
	}

	if e.state.workers > 1 {
		e.state.workers--
	}
}

// onSuccess applies the slow-increase rule.
func (e *Engine) onSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.consecutiveSuccesses++

	if time.Since(e.state.lastThrottle) <= 120*time.Second || e.state.consecutiveSuccesses < 15 {
		return
	}

	e.state.delay = time.Duration(float64(e.state.delay) * 0.95)
	if e.state.delay < e.cfg.MinDelay {
		e.state.delay = e.cfg.MinDelay
	}

	if e.state.consecutiveSuccesses%20 == 0 && e.state.workers < e.cfg.MaxWorkers {
		e.state.workers++
	}
}

func (e *Engine) currentWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.workers
}

func (e *Engine) currentDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.delay
}

// sleepCtx waits d, returning false on cancellation.
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

func (e *Engine) reportProgress(results map[int]string, remaining int, start time.Time, bytesDone int64) {
	if e.onProgress == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	e.onProgress(Progress{
		Completed:   len(results),
		Remaining:   remaining,
		FilesPerSec: float64(len(results)) / elapsed,
		MBPerSec:    float64(bytesDone) / (1024 * 1024) / elapsed,
	})
}

func randSeconds(min, max int) time.Duration {
	return time.Duration(min+rand.Intn(max-min+1)) * time.Second
}

func attemptCtxExpired(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
