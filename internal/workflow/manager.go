// Package workflow drives queued jobs through the transcription pipeline.
// A single worker processes one job at a time: creator captions when they
// exist, otherwise download, normalize, chunk, transcribe, and merge.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"scribe/internal/captions"
	"scribe/internal/chunking"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/media/streams"
	"scribe/internal/notifications"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/services/ytdlp"
	"scribe/internal/transcribe"
	"scribe/internal/transcript"
	"scribe/internal/workspace"
)

// MediaFetcher covers the yt-dlp calls the pipeline makes.
type MediaFetcher interface {
	FetchMetadata(ctx context.Context, videoURL string) (*ytdlp.Metadata, error)
	FetchCreatorCaptions(ctx context.Context, videoURL, videoID, dir string) (string, error)
	DownloadAudio(ctx context.Context, videoURL, formatID, dir string) (string, error)
}

// AudioProcessor covers the ffmpeg calls.
type AudioProcessor interface {
	Normalize(ctx context.Context, inputPath, dir string) (string, error)
	Duration(ctx context.Context, audioPath string) float64
	ExtractSegment(ctx context.Context, sourcePath, outputPath string, seg chunking.Segment) error
}

// TranscriptWriter persists finished transcripts and answers the on-disk
// duplicate check.
type TranscriptWriter interface {
	Write(text, title, videoID string) (string, error)
	Exists(videoID string) bool
}

// Transcriber is the adaptive controller boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (string, error)
}

// TranscriberFactory builds a per-job transcriber rooted in the job's
// workspace.
type TranscriberFactory func(ws *workspace.Workspace) Transcriber

// Manager owns the worker loop and the per-job pipeline.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notifications.Service
	media    MediaFetcher
	audio    AudioProcessor
	writer   TranscriptWriter
	newCtrl  TranscriberFactory
	bus      *Bus

	stopAfterCurrent atomic.Bool
	stopRequested    atomic.Bool
}

// NewManager wires a manager from its collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, media MediaFetcher, audio AudioProcessor, writer TranscriptWriter, newCtrl TranscriberFactory) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(logging.String(logging.FieldComponent, "workflow")),
		notifier: notifier,
		media:    media,
		audio:    audio,
		writer:   writer,
		newCtrl:  newCtrl,
		bus:      NewBus(),
	}
}

// Bus exposes the event bus for subscribers.
func (m *Manager) Bus() *Bus { return m.bus }

// StopAfterCurrent lets the active job finish, then exits the loop without
// pulling the next queued job.
func (m *Manager) StopAfterCurrent() {
	m.stopAfterCurrent.Store(true)
}

// RequestStop stops processing: the in-flight job abandons work at the
// next chunk boundary and is requeued rather than failed, and the worker
// loop exits without pulling further jobs.
func (m *Manager) RequestStop() {
	m.stopRequested.Store(true)
}

// Run processes queued jobs until the context is cancelled or a
// stop-after-current request drains. One job runs at a time.
func (m *Manager) Run(ctx context.Context) error {
	poll := time.Duration(m.cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}

	// Stop flags from a previous run do not carry over.
	m.stopRequested.Store(false)
	m.stopAfterCurrent.Store(false)

	var completed, failed int
	var batchStart time.Time

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.stopRequested.Load() {
			m.logger.Info("stop requested, exiting worker loop")
			return nil
		}
		if m.stopAfterCurrent.Load() {
			m.logger.Info("stop after current requested, exiting worker loop")
			return nil
		}

		job, err := m.store.NextQueued(ctx)
		if err != nil {
			m.logger.Error("fetch next queued job", logging.Error(err))
			if !sleepCtx(ctx, poll) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if completed+failed > 0 {
				if err := m.notifier.NotifyQueueDrained(ctx, completed, failed, time.Since(batchStart)); err != nil {
					m.logger.Warn("queue drained notification failed", logging.Error(err))
				}
				completed, failed = 0, 0
			}
			if !sleepCtx(ctx, poll) {
				return ctx.Err()
			}
			continue
		}

		if completed+failed == 0 {
			batchStart = time.Now()
		}
		m.ProcessJob(ctx, job)
		switch job.Status {
		case queue.StatusCompleted:
			completed++
		case queue.StatusFailed:
			failed++
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ProcessJob runs one job through the pipeline, updating the store and
// publishing events at every transition. All failures are caught here and
// decided as retry or terminal; nothing propagates.
func (m *Manager) ProcessJob(ctx context.Context, job *queue.Job) {
	ctx = services.WithJobID(ctx, job.ID)
	logger := m.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldVideoID, job.VideoID),
	)

	job.Status = queue.StatusRunning
	if err := m.advance(ctx, job, queue.StageValidatingURL); err != nil {
		logger.Error("mark job running", logging.Error(err))
		return
	}
	logger.Info("job started", logging.String("url", job.SourceURL))

	skipped, err := m.shortCircuitDuplicates(ctx, job, logger)
	if err != nil {
		m.handleFailure(ctx, job, nil, err, logger)
		return
	}
	if skipped {
		return
	}

	ws, err := workspace.New(m.cfg.WorkspaceDir, job.ID)
	if err != nil {
		m.handleFailure(ctx, job, nil, err, logger)
		return
	}

	if err := m.runPipeline(ctx, job, ws, logger); err != nil {
		m.handleFailure(ctx, job, ws, err, logger)
		return
	}

	job.Status = queue.StatusCompleted
	if err := m.advance(ctx, job, queue.StageCleanup); err != nil {
		logger.Error("mark job completed", logging.Error(err))
		return
	}
	ws.Cleanup(m.cfg.Workflow.KeepDebugArtifacts)
	m.bus.Publish(jobEvent(EventJobCompleted, job))
	if err := m.notifier.NotifyJobCompleted(ctx, job.Title, job.UsedCreatorCaptions); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
	logger.Info("job completed",
		logging.Bool("used_creator_captions", job.UsedCreatorCaptions))
}

// shortCircuitDuplicates skips the job when its video already has a
// transcript, either recorded in the store or sitting in the output
// library.
func (m *Manager) shortCircuitDuplicates(ctx context.Context, job *queue.Job, logger *slog.Logger) (bool, error) {
	skipped, err := m.store.SkipIfCompletedDuplicate(ctx, job.ID, job.VideoID, queue.SkipReasonDuplicateInStore)
	if err != nil {
		return false, err
	}
	if skipped {
		logger.Info("duplicate video already completed, skipping")
		m.finishSkip(ctx, job, queue.SkipReasonDuplicateInStore)
		return true, nil
	}

	if m.writer.Exists(job.VideoID) {
		if err := m.store.MarkSkipped(ctx, job.ID, queue.SkipReasonDuplicateOnDisk); err != nil {
			return false, err
		}
		logger.Info("transcript already on disk, skipping")
		m.finishSkip(ctx, job, queue.SkipReasonDuplicateOnDisk)
		return true, nil
	}
	return false, nil
}

// persistArtifact records a pipeline artifact for offline diagnosis. A
// write failure never fails the job.
func (m *Manager) persistArtifact(ws *workspace.Workspace, name string, v any, logger *slog.Logger) {
	if err := ws.WriteMetaJSON(name, v); err != nil {
		logger.Warn("persist workspace artifact",
			logging.String("artifact", name), logging.Error(err))
	}
}

func (m *Manager) finishSkip(ctx context.Context, job *queue.Job, reason string) {
	job.Status = queue.StatusSkipped
	job.Stage = queue.Stage(reason)
	m.bus.Publish(jobEvent(EventJobSkipped, job))
	if err := m.notifier.NotifyJobSkipped(ctx, job.Title, reason); err != nil {
		m.logger.Warn("skip notification failed", logging.Error(err))
	}
}

func (m *Manager) runPipeline(ctx context.Context, job *queue.Job, ws *workspace.Workspace, logger *slog.Logger) error {
	if err := m.advance(ctx, job, queue.StageFetchingMeta); err != nil {
		return err
	}
	meta, err := m.media.FetchMetadata(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	if meta.Title != "" {
		job.Title = meta.Title
	}
	m.persistArtifact(ws, "metadata.json", meta, logger)

	if err := m.advance(ctx, job, queue.StageTryingCaptions); err != nil {
		return err
	}
	vttPath, err := m.media.FetchCreatorCaptions(ctx, job.SourceURL, job.VideoID, ws.Captions())
	if err != nil {
		return err
	}

	if vttPath != "" {
		done, err := m.tryCaptionsPath(ctx, job, vttPath, logger)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// Empty or unparseable captions fall through to speech-to-text
		// with the metadata already in hand.
	}

	return m.runFallbackPath(ctx, job, ws, meta, logger)
}

// tryCaptionsPath parses creator captions and writes the output when they
// carry usable text. Returns done=false to request the fallback path.
func (m *Manager) tryCaptionsPath(ctx context.Context, job *queue.Job, vttPath string, logger *slog.Logger) (bool, error) {
	if err := m.advance(ctx, job, queue.StageParsingCapts); err != nil {
		return false, err
	}

	text, err := captions.ParseFile(vttPath)
	if err != nil || text == "" {
		logger.Info("creator captions unusable, falling back to speech-to-text",
			logging.Bool("parse_error", err != nil))
		return false, nil
	}

	if err := m.advance(ctx, job, queue.StageWritingOutput); err != nil {
		return false, err
	}
	if _, err := m.writer.Write(text, job.Title, job.VideoID); err != nil {
		return false, err
	}
	job.UsedCreatorCaptions = true
	logger.Info("transcript written from creator captions")
	return true, nil
}

func (m *Manager) runFallbackPath(ctx context.Context, job *queue.Job, ws *workspace.Workspace, meta *ytdlp.Metadata, logger *slog.Logger) error {
	if err := m.advance(ctx, job, queue.StageSelectingAudio); err != nil {
		return err
	}
	selection := streams.Select(meta.Formats)
	logger.Info("audio stream selected",
		logging.String("format_id", selection.FormatID),
		logging.Float64("abr", selection.ABR),
		logging.String("reason", selection.Reason))
	m.persistArtifact(ws, "selected_stream.json", selection, logger)

	if err := m.advance(ctx, job, queue.StageDownloading); err != nil {
		return err
	}
	sourcePath, err := m.media.DownloadAudio(ctx, job.SourceURL, selection.FormatID, ws.Source())
	if err != nil {
		return err
	}

	if err := m.advance(ctx, job, queue.StageNormalizing); err != nil {
		return err
	}
	normalizedPath, err := m.audio.Normalize(ctx, sourcePath, ws.Normalized())
	if err != nil {
		return err
	}

	duration := m.audio.Duration(ctx, normalizedPath)
	if duration <= 0 {
		// Probe failed; the metadata duration is close enough for
		// chunk planning.
		duration = meta.Duration
	}

	controller := m.newCtrl(ws)

	var texts []string
	if chunking.NeedsChunking(duration, m.cfg.ChunkThresholdSeconds()) {
		texts, err = m.transcribeChunked(ctx, job, ws, controller, normalizedPath, duration, logger)
	} else {
		texts, err = m.transcribeWhole(ctx, job, controller, normalizedPath, ws, duration)
	}
	if err != nil {
		return err
	}

	if err := m.advance(ctx, job, queue.StageMerging); err != nil {
		return err
	}
	merged := transcript.MergeAll(texts)

	if err := m.advance(ctx, job, queue.StageWritingOutput); err != nil {
		return err
	}
	if _, err := m.writer.Write(merged, job.Title, job.VideoID); err != nil {
		return err
	}
	return nil
}

func (m *Manager) transcribeWhole(ctx context.Context, job *queue.Job, controller Transcriber, normalizedPath string, ws *workspace.Workspace, duration float64) ([]string, error) {
	if err := m.advance(ctx, job, queue.StageTranscribing); err != nil {
		return nil, err
	}
	text, err := controller.Transcribe(ctx, transcribe.Request{
		SourcePath:      normalizedPath,
		AudioPath:       normalizedPath,
		Start:           0,
		End:             duration,
		RawResponsePath: ws.TranscriptPath(0),
	})
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

func (m *Manager) transcribeChunked(ctx context.Context, job *queue.Job, ws *workspace.Workspace, controller Transcriber, normalizedPath string, duration float64, logger *slog.Logger) ([]string, error) {
	if err := m.advance(ctx, job, queue.StageChunking); err != nil {
		return nil, err
	}
	manifest, err := chunking.BuildManifest(duration,
		float64(m.cfg.Chunking.ChunkSeconds), float64(m.cfg.Chunking.OverlapSeconds))
	if err != nil {
		return nil, services.WrapError(services.CodeChunkingFailed, "plan chunks", err)
	}
	logger.Info("chunking long recording",
		logging.Float64("duration", duration),
		logging.Int("chunks", len(manifest)))
	m.persistArtifact(ws, "manifest.json", manifest, logger)

	records := make([]queue.Chunk, len(manifest))
	for i, seg := range manifest {
		if err := m.audio.ExtractSegment(ctx, normalizedPath, ws.ChunkPath(seg.Index), seg); err != nil {
			return nil, err
		}
		records[i] = queue.Chunk{
			JobID:    job.ID,
			Index:    seg.Index,
			StartSec: seg.Start,
			EndSec:   seg.End,
			Status:   queue.ChunkPending,
		}
	}
	if err := m.store.CreateChunks(ctx, records); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(manifest))
	for i, seg := range manifest {
		if m.stopRequested.Load() {
			return nil, services.NewError(services.CodeNetworkTransient,
				"processing stopped by user")
		}

		job.SetProgress(queue.StageTranscribing, queue.TranscribeProgress(i, len(manifest)))
		if err := m.store.Update(ctx, job); err != nil {
			return nil, err
		}
		m.bus.Publish(jobEvent(EventJobUpdated, job))

		text, err := controller.Transcribe(services.WithStage(ctx, string(queue.StageTranscribing)), transcribe.Request{
			SourcePath:      normalizedPath,
			AudioPath:       ws.ChunkPath(seg.Index),
			Start:           seg.Start,
			End:             seg.End,
			RawResponsePath: ws.TranscriptPath(seg.Index),
		})
		if err != nil {
			details := services.Details(err)
			if chunkErr := m.store.MarkChunkFailed(ctx, job.ID, seg.Index, details); chunkErr != nil {
				logger.Error("record chunk failure", logging.Error(chunkErr))
			}
			return nil, err
		}
		if err := m.store.MarkChunkDone(ctx, job.ID, seg.Index); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// advance moves the job to a stage, persists it, and publishes the update.
func (m *Manager) advance(ctx context.Context, job *queue.Job, stage queue.Stage) error {
	job.SetProgress(stage, queue.ProgressFor(stage))
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist stage %s: %w", stage, err)
	}
	m.bus.Publish(jobEvent(EventJobUpdated, job))
	return nil
}

// handleFailure decides retry versus terminal for a classified failure.
func (m *Manager) handleFailure(ctx context.Context, job *queue.Job, ws *workspace.Workspace, err error, logger *slog.Logger) {
	details := services.Details(err)
	logger.Error("job failed",
		logging.String(logging.FieldErrorCode, string(details.Code)),
		logging.Bool("retryable", details.Retryable),
		logging.Int("retry_count", job.RetryCount),
		logging.Error(err))

	if details.Retryable && job.RetryCount < m.cfg.Workflow.MaxAutoRetries {
		job.ResetForRetry()
		if updateErr := m.store.Update(ctx, job); updateErr != nil {
			logger.Error("requeue job", logging.Error(updateErr))
			return
		}
		if delErr := m.store.DeleteChunks(ctx, job.ID); delErr != nil {
			logger.Warn("clear chunk records for retry", logging.Error(delErr))
		}
		m.bus.Publish(jobEvent(EventJobRequeued, job))
		logger.Info("job requeued for retry", logging.Int("retry_count", job.RetryCount))
		return
	}

	job.SetFailed(details)
	if updateErr := m.store.Update(ctx, job); updateErr != nil {
		logger.Error("mark job failed", logging.Error(updateErr))
		return
	}
	if ws != nil {
		ws.Cleanup(m.cfg.Workflow.KeepDebugArtifacts)
	}
	m.bus.Publish(jobEvent(EventJobFailed, job))
	if notifyErr := m.notifier.NotifyJobFailed(ctx, job.Title, job.ErrorCode, job.ErrorMessage); notifyErr != nil {
		logger.Warn("failure notification failed", logging.Error(notifyErr))
	}
}
