package queue

import (
	"strings"
	"time"

	"scribe/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Stage identifies one step of the pipeline. Stages are strictly ordered;
// each maps to a fixed progress percentage.
type Stage string

const (
	StageValidatingURL  Stage = "VALIDATING_URL"
	StageFetchingMeta   Stage = "FETCHING_METADATA"
	StageTryingCaptions Stage = "TRYING_CREATOR_CAPTIONS"
	StageParsingCapts   Stage = "PARSING_CAPTIONS"
	StageSelectingAudio Stage = "SELECTING_AUDIO_STREAM"
	StageDownloading    Stage = "DOWNLOADING_AUDIO"
	StageNormalizing    Stage = "NORMALIZING_AUDIO"
	StageChunking       Stage = "CHUNKING_AUDIO"
	StageTranscribing   Stage = "TRANSCRIBING"
	StageMerging        Stage = "MERGING_TRANSCRIPT"
	StageWritingOutput  Stage = "WRITING_OUTPUT"
	StageCleanup        Stage = "CLEANUP"
)

// Skip reasons recorded in the stage column when a duplicate short-circuits.
const (
	SkipReasonDuplicateInStore = "DUPLICATE_IN_STORE"
	SkipReasonDuplicateOnDisk  = "DUPLICATE_ON_DISK"
)

// Transcription progress spans this window; individual chunks advance
// through it by index.
const (
	ProgressTranscribeStart = 60
	ProgressTranscribeEnd   = 95
)

var stageProgress = map[Stage]int{
	StageValidatingURL:  5,
	StageFetchingMeta:   10,
	StageTryingCaptions: 15,
	StageParsingCapts:   20,
	StageSelectingAudio: 30,
	StageDownloading:    45,
	StageNormalizing:    55,
	StageChunking:       60,
	StageTranscribing:   ProgressTranscribeStart,
	StageMerging:        96,
	StageWritingOutput:  98,
	StageCleanup:        100,
}

// ProgressFor returns the fixed progress percentage for a stage.
func ProgressFor(stage Stage) int {
	if pct, ok := stageProgress[stage]; ok {
		return pct
	}
	return 0
}

// TranscribeProgress maps a chunk index onto the transcription window.
func TranscribeProgress(index, total int) int {
	if total <= 0 {
		return ProgressTranscribeStart
	}
	window := ProgressTranscribeEnd - ProgressTranscribeStart
	return ProgressTranscribeStart + (index*window)/total
}

// Job represents one requested video persisted in SQLite.
type Job struct {
	ID                  string
	SourceURL           string
	VideoID             string
	Title               string
	Status              Status
	Stage               Stage
	ProgressPct         int
	RetryCount          int
	ErrorCode           string
	ErrorMessage        string
	Retryable           bool
	UsedCreatorCaptions bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

// ChunkStatus tracks one chunk's transcription attempt.
type ChunkStatus string

const (
	ChunkPending ChunkStatus = "pending"
	ChunkDone    ChunkStatus = "done"
	ChunkFailed  ChunkStatus = "failed"
)

// Chunk is one time-segment of a chunked job, keyed by (job id, index).
type Chunk struct {
	JobID        string
	Index        int
	StartSec     float64
	EndSec       float64
	Status       ChunkStatus
	Attempts     int
	ErrorCode    string
	ErrorMessage string
}

// SetProgress advances stage and progress. Progress is monotonic within a
// run: a stage mapping below the current percentage is ignored.
func (j *Job) SetProgress(stage Stage, pct int) {
	j.Stage = stage
	if pct > j.ProgressPct {
		j.ProgressPct = pct
	}
}

// SetFailed marks the job failed, retaining the classified code and message.
func (j *Job) SetFailed(details services.ErrorDetails) {
	j.Status = StatusFailed
	j.ErrorCode = string(details.Code)
	j.ErrorMessage = services.TruncateMessage(details.Message)
	j.Retryable = details.Retryable
}

// ResetForRetry returns the job to QUEUED for another pass through the
// worker loop, clearing stage, progress, and error state.
func (j *Job) ResetForRetry() {
	j.Status = StatusQueued
	j.Stage = ""
	j.ProgressPct = 0
	j.ErrorCode = ""
	j.ErrorMessage = ""
	j.Retryable = false
	j.RetryCount++
}
