// Package transcribe turns one audio segment into transcript text despite
// timeouts and rate limiting. Timeouts trigger recursive halving of the
// segment down to a floor; other retryable failures get one immediate
// retry.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"scribe/internal/chunking"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/services/deepgram"
	"scribe/internal/transcript"
)

// Transcriber is the speech-to-text call. Implemented by the deepgram
// client; faked in tests.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, rawResponsePath string) (*deepgram.Response, error)
}

// SegmentExtractor materializes a sub-interval of the source audio as its
// own file. Implemented by the ffmpeg client.
type SegmentExtractor interface {
	ExtractSegment(ctx context.Context, sourcePath, outputPath string, seg chunking.Segment) error
}

// Request describes one transcription unit.
type Request struct {
	// SourcePath is the full normalized audio the segment came from; the
	// controller cuts adaptive halves out of it.
	SourcePath string
	// AudioPath is the file actually uploaded for this request.
	AudioPath string
	// Start and End locate the segment inside the source, in seconds.
	Start float64
	End   float64
	// RawResponsePath receives the raw service response on success.
	RawResponsePath string
}

// Controller drives adaptive transcription for one job.
type Controller struct {
	transcriber     Transcriber
	extractor       SegmentExtractor
	minChunkSeconds float64
	overlapSeconds  float64
	// workDir holds audio halves materialized during adaptive retry.
	workDir string
	logger  *slog.Logger
}

// NewController wires a controller from its collaborators.
func NewController(transcriber Transcriber, extractor SegmentExtractor, minChunkSeconds, overlapSeconds float64, workDir string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		transcriber:     transcriber,
		extractor:       extractor,
		minChunkSeconds: minChunkSeconds,
		overlapSeconds:  overlapSeconds,
		workDir:         workDir,
		logger:          logger,
	}
}

// Transcribe obtains transcript text for one request. Recursion on timeout
// is bounded by the minimum segment floor, so it always terminates.
func (c *Controller) Transcribe(ctx context.Context, req Request) (string, error) {
	resp, err := c.transcriber.Transcribe(ctx, req.AudioPath, req.RawResponsePath)
	if err == nil {
		return deepgram.ExtractText(resp), nil
	}

	details := services.Details(err)
	if details.Code != services.CodeTimeout {
		if !details.Retryable {
			return "", err
		}
		c.logger.Warn("transcription failed, retrying once",
			logging.String(logging.FieldErrorCode, string(details.Code)))
		resp, retryErr := c.transcriber.Transcribe(ctx, req.AudioPath, req.RawResponsePath)
		if retryErr != nil {
			return "", retryErr
		}
		return deepgram.ExtractText(resp), nil
	}

	duration := req.End - req.Start
	if duration <= c.minChunkSeconds {
		// No further splitting below the floor. The timeout keeps its
		// default retryability so the job gets its one automatic requeue.
		return "", services.NewError(services.CodeTimeout,
			fmt.Sprintf("timeout on minimum segment size (%.0fs)", duration))
	}

	c.logger.Info("transcription timed out, splitting segment",
		logging.Float64("start", req.Start),
		logging.Float64("end", req.End))
	return c.transcribeHalves(ctx, req)
}

func (c *Controller) transcribeHalves(ctx context.Context, req Request) (string, error) {
	first, second := chunking.SplitInHalf(req.Start, req.End, c.overlapSeconds)

	texts := make([]string, 0, 2)
	for i, half := range []chunking.Segment{first, second} {
		label := fmt.Sprintf("adaptive_%.0f_%d", req.Start, i)
		halfAudio := filepath.Join(c.workDir, label+".mp3")
		if err := c.extractor.ExtractSegment(ctx, req.SourcePath, halfAudio, half); err != nil {
			return "", err
		}

		text, err := c.Transcribe(ctx, Request{
			SourcePath:      req.SourcePath,
			AudioPath:       halfAudio,
			Start:           half.Start,
			End:             half.End,
			RawResponsePath: rawPathFor(req.RawResponsePath, label),
		})
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	return transcript.MergeAll(texts), nil
}

// rawPathFor places a half's raw response next to its parent's.
func rawPathFor(parent, label string) string {
	if parent == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(parent), label+".json")
}
