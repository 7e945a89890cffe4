// Package daemon runs the background worker with single-instance locking
// and a localhost HTTP API for the CLI.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/videoid"
	"scribe/internal/workflow"
)

// Daemon coordinates the worker loop and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.LogDir, "scribed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, recovers jobs interrupted by a previous
// crash, and launches the worker loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	// Jobs left RUNNING by a crash go back to QUEUED before the worker
	// starts pulling.
	reset, err := d.store.ResetStuckRunning(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("requeued jobs interrupted by previous shutdown",
			logging.Int("count", int(reset)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		if err := d.workflow.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("worker loop exited", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("scribe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels the worker, shuts down the API, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.workflow.RequestStop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.done.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped")
}

// StopAfterCurrent drains the active job before the worker loop exits.
func (d *Daemon) StopAfterCurrent() {
	d.workflow.StopAfterCurrent()
}

// Wait blocks until the worker loop finishes.
func (d *Daemon) Wait() {
	d.done.Wait()
}

// Close stops the daemon and its store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// AddJob validates a URL and enqueues it. Duplicate videos are still
// enqueued; the worker's duplicate check skips them with a recorded
// reason.
func (d *Daemon) AddJob(ctx context.Context, rawURL string) (*queue.Job, error) {
	videoID, err := videoid.Validate(rawURL)
	if err != nil {
		return nil, err
	}
	job, err := d.store.NewJob(ctx, rawURL, videoID)
	if err != nil {
		return nil, err
	}
	d.workflow.Bus().Publish(workflow.Event{
		Type:    workflow.EventJobQueued,
		JobID:   job.ID,
		VideoID: job.VideoID,
		Status:  job.Status,
	})
	d.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldVideoID, job.VideoID))
	return job, nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
