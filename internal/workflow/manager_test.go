package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/chunking"
	"scribe/internal/config"
	"scribe/internal/media/streams"
	"scribe/internal/output"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/services/ytdlp"
	"scribe/internal/testsupport"
	"scribe/internal/transcribe"
	"scribe/internal/workflow"
	"scribe/internal/workspace"
)

const sampleVTT = "WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nCaption speech here\n"

type fakeMedia struct {
	meta         *ytdlp.Metadata
	metaErr      error
	captionsVTT  string // written into the captions dir when non-empty
	downloadErr  error
	downloads    int
	metadataGets int
}

func (f *fakeMedia) FetchMetadata(context.Context, string) (*ytdlp.Metadata, error) {
	f.metadataGets++
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeMedia) FetchCreatorCaptions(_ context.Context, _, videoID, dir string) (string, error) {
	if f.captionsVTT == "" {
		return "", nil
	}
	path := filepath.Join(dir, videoID+".en.vtt")
	if err := os.WriteFile(path, []byte(f.captionsVTT), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeMedia) DownloadAudio(_ context.Context, _, _, dir string) (string, error) {
	f.downloads++
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	path := filepath.Join(dir, "source.webm")
	return path, os.WriteFile(path, []byte("audio"), 0o644)
}

type fakeAudio struct {
	duration float64
}

func (f *fakeAudio) Normalize(_ context.Context, _, dir string) (string, error) {
	path := filepath.Join(dir, "normalized.mp3")
	return path, os.WriteFile(path, []byte("normalized"), 0o644)
}

func (f *fakeAudio) Duration(context.Context, string) float64 { return f.duration }

func (f *fakeAudio) ExtractSegment(_ context.Context, _, outputPath string, _ chunking.Segment) error {
	return os.WriteFile(outputPath, []byte("segment"), 0o644)
}

type fakeTranscriber struct {
	texts  []string
	errs   []error
	calls  int
	onCall func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req transcribe.Request) (string, error) {
	i := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.texts) {
		return f.texts[i], nil
	}
	return "transcribed text", nil
}

func writerFor(cfg *config.Config) workflow.TranscriptWriter {
	return output.NewWriter(cfg.OutputDir)
}

type fixture struct {
	cfg     *config.Config
	store   *queue.Store
	media   *fakeMedia
	audio   *fakeAudio
	ctrl    *fakeTranscriber
	manager *workflow.Manager
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		cfg:   cfg,
		store: store,
		media: &fakeMedia{meta: &ytdlp.Metadata{
			ID:       "dQw4w9WgXcQ",
			Title:    "Test Video",
			Duration: 600,
		}},
		audio: &fakeAudio{duration: 600},
		ctrl:  &fakeTranscriber{},
	}
	f.media.meta.Formats = []streams.Descriptor{
		{FormatID: "251", VideoCodec: "none", AudioCodec: "opus", ABR: 96, Ext: "webm"},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.manager = workflow.NewManager(cfg, store, nil, nil, f.media, f.audio,
		writerFor(cfg), func(*workspace.Workspace) workflow.Transcriber { return f.ctrl })
	return f
}

func (f *fixture) enqueue(t *testing.T) *queue.Job {
	t.Helper()
	return testsupport.NewJob(t, f.store, "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ")
}

func (f *fixture) reload(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return job
}

func TestProcessJobCaptionsPath(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.media.captionsVTT = sampleVTT
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (%s: %s)", stored.Status, stored.ErrorCode, stored.ErrorMessage)
	}
	if !stored.UsedCreatorCaptions {
		t.Fatal("job must be flagged as caption-sourced")
	}
	if stored.ProgressPct != 100 {
		t.Fatalf("progress = %d, want 100", stored.ProgressPct)
	}
	if f.media.downloads != 0 {
		t.Fatal("captions path must not download audio")
	}

	outPath := filepath.Join(f.cfg.OutputDir, "Test Video", "dQw4w9WgXcQ.txt")
	body, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	if !strings.Contains(string(body), "Caption speech here") {
		t.Fatalf("unexpected transcript %q", body)
	}
}

func TestProcessJobEmptyCaptionsFallsBack(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.media.captionsVTT = "WEBVTT\nKind: captions\n\n"
		f.ctrl.texts = []string{"spoken words"}
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s)", stored.Status, stored.ErrorMessage)
	}
	if stored.UsedCreatorCaptions {
		t.Fatal("empty captions must not be flagged as caption-sourced")
	}
	if f.media.downloads != 1 {
		t.Fatalf("fallback must download audio once, got %d", f.media.downloads)
	}
	if f.media.metadataGets != 1 {
		t.Fatalf("fallback must reuse fetched metadata, got %d fetches", f.media.metadataGets)
	}
	if f.ctrl.calls != 1 {
		t.Fatalf("short recording must transcribe once, got %d", f.ctrl.calls)
	}
}

func TestProcessJobDuplicateInStoreSkipped(t *testing.T) {
	f := newFixture(t)

	first := f.enqueue(t)
	first.Status = queue.StatusCompleted
	if err := f.store.Update(context.Background(), first); err != nil {
		t.Fatal(err)
	}

	dup := f.enqueue(t)
	f.manager.ProcessJob(context.Background(), dup)

	stored := f.reload(t, dup.ID)
	if stored.Status != queue.StatusSkipped {
		t.Fatalf("status = %s, want SKIPPED", stored.Status)
	}
	if string(stored.Stage) != queue.SkipReasonDuplicateInStore {
		t.Fatalf("stage = %s, want duplicate-in-store reason", stored.Stage)
	}
	if f.media.metadataGets != 0 {
		t.Fatal("skipped duplicate must not touch the network")
	}
}

func TestProcessJobDuplicateOnDiskSkipped(t *testing.T) {
	f := newFixture(t)

	// Pre-existing transcript in the output library, no store record.
	dir := filepath.Join(f.cfg.OutputDir, "Earlier Title")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dQw4w9WgXcQ.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	job := f.enqueue(t)
	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusSkipped {
		t.Fatalf("status = %s, want SKIPPED", stored.Status)
	}
	if string(stored.Stage) != queue.SkipReasonDuplicateOnDisk {
		t.Fatalf("stage = %s, want duplicate-on-disk reason", stored.Stage)
	}
}

func TestProcessJobRetryableFailureRequeuedExactlyOnce(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.media.metaErr = services.NewError(services.CodeNetworkTransient, "connection reset")
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("first failure: status = %s, want QUEUED", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", stored.RetryCount)
	}

	f.manager.ProcessJob(context.Background(), stored)

	final := f.reload(t, job.ID)
	if final.Status != queue.StatusFailed {
		t.Fatalf("second failure: status = %s, want FAILED", final.Status)
	}
	if final.ErrorCode != string(services.CodeNetworkTransient) {
		t.Fatalf("error code = %s", final.ErrorCode)
	}
}

func TestProcessJobTerminalFailureNotRequeued(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.media.metaErr = services.NewError(services.CodeVideoUnavailable, "gone")
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("terminal failure must not consume a retry, count = %d", stored.RetryCount)
	}
}

func TestProcessJobChunkedTranscription(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
		f.media.meta.Duration = 10800
		f.ctrl.texts = []string{"part one", "part two", "part three", "part four"}
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s: %s)", stored.Status, stored.ErrorCode, stored.ErrorMessage)
	}
	if f.ctrl.calls != 4 {
		t.Fatalf("3h recording with 1h chunks transcribes 4 segments, got %d", f.ctrl.calls)
	}

	chunks, err := f.store.ChunksForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunk records, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.Status != queue.ChunkDone {
			t.Fatalf("chunk %d status = %s", chunk.Index, chunk.Status)
		}
	}
}

func TestProcessJobChunkFailureRecorded(t *testing.T) {
	auth := services.NewError(services.CodeTranscribeAuth, "invalid api key")
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
		f.ctrl.texts = []string{"part one"}
		f.ctrl.errs = []error{nil, auth}
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}

	chunks, err := f.store.ChunksForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Status != queue.ChunkDone {
		t.Fatalf("chunk 0 = %s, want done", chunks[0].Status)
	}
	if chunks[1].Status != queue.ChunkFailed {
		t.Fatalf("chunk 1 = %s, want failed", chunks[1].Status)
	}
	if chunks[1].ErrorCode != string(services.CodeTranscribeAuth) {
		t.Fatalf("chunk 1 error code = %s", chunks[1].ErrorCode)
	}
}

func TestProcessJobChunkTimeoutRequeuesOnce(t *testing.T) {
	timeout := services.NewError(services.CodeTimeout, "timeout on minimum segment size (300s)")
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
		f.ctrl.errs = []error{timeout}
	})
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("floor timeout must requeue the job once, status = %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", stored.RetryCount)
	}
}

func TestProcessJobStopRequestAbortsRetryably(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
	})
	job := f.enqueue(t)
	f.manager.RequestStop()

	f.manager.ProcessJob(context.Background(), job)

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("stopped job must be requeued, status = %s", stored.Status)
	}
	if f.ctrl.calls != 0 {
		t.Fatal("stop must be honored before the first chunk")
	}
}

func TestPipelineArtifactsPersisted(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
		f.cfg.Workflow.KeepDebugArtifacts = true
	})
	f.ctrl.texts = []string{"part one", "part two", "part three", "part four"}
	job := f.enqueue(t)

	f.manager.ProcessJob(context.Background(), job)

	if got := f.reload(t, job.ID).Status; got != queue.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
	metaDir := filepath.Join(f.cfg.WorkspaceDir, job.ID, workspace.DirMeta)
	for _, name := range []string{"metadata.json", "selected_stream.json", "manifest.json"} {
		if _, err := os.Stat(filepath.Join(metaDir, name)); err != nil {
			t.Errorf("expected %s to survive cleanup: %v", name, err)
		}
	}
}

func TestRunExitsAfterStopRequest(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.audio.duration = 10800
	})
	job := f.enqueue(t)

	// Stop fires while the first chunk is transcribing. The job must be
	// abandoned at the next chunk boundary and the loop must exit instead
	// of pulling the requeued job again.
	f.ctrl.onCall = func() { f.manager.RequestStop() }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.manager.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored := f.reload(t, job.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("stopped job must be requeued, status = %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", stored.RetryCount)
	}
	if f.ctrl.calls != 1 {
		t.Fatalf("transcribe calls = %d, want 1 (no work after stop)", f.ctrl.calls)
	}
}

func TestEventsPublishedThroughBus(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.media.captionsVTT = sampleVTT
	})
	events, cancel := f.manager.Bus().Subscribe()
	defer cancel()

	job := f.enqueue(t)
	f.manager.ProcessJob(context.Background(), job)

	var sawCompleted bool
	for {
		select {
		case ev := <-events:
			if ev.Type == workflow.EventJobCompleted && ev.JobID == job.ID {
				sawCompleted = true
			}
			if ev.ProgressPct > 100 {
				t.Fatalf("progress out of range: %d", ev.ProgressPct)
			}
		default:
			if !sawCompleted {
				t.Fatal("no completion event published")
			}
			return
		}
	}
}
