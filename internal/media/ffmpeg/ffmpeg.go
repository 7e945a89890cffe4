// Package ffmpeg wraps the ffmpeg and ffprobe binaries for the audio work
// the pipeline needs: normalizing downloads into a transcription-friendly
// format, measuring duration, and cutting segments out of the normalized
// file.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"scribe/internal/chunking"
	"scribe/internal/services"
)

var commandContext = exec.CommandContext

// Normalization target. Speech-to-text wants mono 16kHz and gains nothing
// from higher bitrates than the stream selector already picked.
const (
	sampleRate = 16000
	bitrate    = "96k"
	// downmix keeps both stereo channels audible instead of dropping one.
	downmix = "pan=mono|c0=0.5*c0+0.5*c1"
)

// Option configures the CLI client.
type Option func(*CLI)

// WithFfmpegBinary overrides the ffmpeg binary name.
func WithFfmpegBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffmpeg = binary
		}
	}
}

// WithFfprobeBinary overrides the ffprobe binary name.
func WithFfprobeBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffprobe = binary
		}
	}
}

// CLI shells out to ffmpeg/ffprobe.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a client using the binaries from PATH by default.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Normalize transcodes the downloaded audio into mono 16kHz MP3 CBR 96kbps
// at dir/normalized.mp3 and returns the output path.
func (c *CLI) Normalize(ctx context.Context, inputPath, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.WrapError(services.CodeNormalizeFailed, "create normalize dir", err)
	}
	outputPath := filepath.Join(dir, "normalized.mp3")

	args := []string{
		"-y",
		"-i", inputPath,
		"-af", downmix,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-b:a", bitrate,
		"-codec:a", "libmp3lame",
		outputPath,
	}
	if err := c.run(ctx, c.ffmpeg, args); err != nil {
		return "", services.WrapError(services.CodeNormalizeFailed, "normalize audio", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", services.NewError(services.CodeNormalizeFailed, "normalized file not created")
	}
	return outputPath, nil
}

// Duration measures the audio length in seconds via ffprobe. Any failure
// returns 0 so callers can fall back to metadata-reported duration.
func (c *CLI) Duration(ctx context.Context, audioPath string) float64 {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	}
	cmd := commandContext(ctx, c.ffprobe, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return seconds
}

// ExtractSegment copies one planned segment out of the normalized file into
// outputPath. The stream is copied rather than re-encoded.
func (c *CLI) ExtractSegment(ctx context.Context, normalizedPath, outputPath string, seg chunking.Segment) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return services.WrapError(services.CodeChunkingFailed, "create chunk dir", err)
	}
	args := []string{
		"-y",
		"-i", normalizedPath,
		"-ss", formatSeconds(seg.Start),
		"-t", formatSeconds(seg.Duration()),
		"-codec:a", "copy",
		outputPath,
	}
	if err := c.run(ctx, c.ffmpeg, args); err != nil {
		return services.WrapError(services.CodeChunkingFailed,
			fmt.Sprintf("extract segment %d", seg.Index), err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return services.NewError(services.CodeChunkingFailed,
			fmt.Sprintf("segment file %d not created", seg.Index))
	}
	return nil
}

func (c *CLI) run(ctx context.Context, binary string, args []string) error {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 300 {
			detail = detail[:300]
		}
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", binary, err, detail)
		}
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
