// Package ytdlp wraps the yt-dlp binary for the three fetches the pipeline
// makes against a video URL: metadata, creator captions, and the selected
// audio stream.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scribe/internal/media/streams"
	"scribe/internal/services"
)

var commandContext = exec.CommandContext

// CookiePolicy controls whether invocations attach a cookies file. Cookies
// are only worth attaching for restricted content, so caption fetches try
// without them first.
type CookiePolicy struct {
	Enabled bool
	Path    string
}

func (p CookiePolicy) args() []string {
	if !p.Enabled || p.Path == "" {
		return nil
	}
	if _, err := os.Stat(p.Path); err != nil {
		return nil
	}
	return []string{"--cookies", p.Path}
}

// Metadata is the slice of yt-dlp's --dump-json output the pipeline needs.
type Metadata struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Duration float64              `json:"duration"`
	Formats  []streams.Descriptor `json:"-"`
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the yt-dlp binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithCookies sets the cookie policy for all invocations.
func WithCookies(policy CookiePolicy) Option {
	return func(c *CLI) {
		c.cookies = policy
	}
}

// CLI shells out to yt-dlp.
type CLI struct {
	binary  string
	cookies CookiePolicy
}

// NewCLI constructs a client using yt-dlp from PATH by default.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// FetchMetadata runs yt-dlp --dump-json for one video and returns the
// parsed metadata plus the available stream descriptors.
func (c *CLI) FetchMetadata(ctx context.Context, videoURL string) (*Metadata, error) {
	args := []string{"--dump-json", "--no-playlist", "--skip-download"}
	args = append(args, c.cookies.args()...)
	args = append(args, videoURL)

	stdout, stderr, err := c.run(ctx, args)
	if err != nil {
		return nil, classifyFetchError(stderr, err)
	}

	var payload struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
		Formats  []struct {
			FormatID string  `json:"format_id"`
			VCodec   string  `json:"vcodec"`
			ACodec   string  `json:"acodec"`
			ABR      float64 `json:"abr"`
			Ext      string  `json:"ext"`
		} `json:"formats"`
	}
	if err := json.Unmarshal(stdout, &payload); err != nil {
		return nil, services.WrapError(services.CodeNetworkTransient, "parse yt-dlp metadata", err)
	}

	meta := &Metadata{ID: payload.ID, Title: payload.Title, Duration: payload.Duration}
	for _, f := range payload.Formats {
		meta.Formats = append(meta.Formats, streams.Descriptor{
			FormatID:   f.FormatID,
			VideoCodec: f.VCodec,
			AudioCodec: f.ACodec,
			ABR:        f.ABR,
			Ext:        f.Ext,
		})
	}
	return meta, nil
}

// FetchCreatorCaptions tries to download creator-authored English captions
// into dir and returns the VTT path, or "" when none exist. Auto-generated
// subtitles are never requested. When a cookie policy is configured, a
// second attempt with cookies runs after a cookieless miss.
func (c *CLI) FetchCreatorCaptions(ctx context.Context, videoURL, videoID, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.WrapError(services.CodeCaptionsNotFound, "create captions dir", err)
	}

	if path := c.tryCaptions(ctx, videoURL, videoID, dir, nil); path != "" {
		return path, nil
	}
	if cookieArgs := c.cookies.args(); len(cookieArgs) > 0 {
		if path := c.tryCaptions(ctx, videoURL, videoID, dir, cookieArgs); path != "" {
			return path, nil
		}
	}
	return "", nil
}

func (c *CLI) tryCaptions(ctx context.Context, videoURL, videoID, dir string, cookieArgs []string) string {
	args := []string{
		"--skip-download",
		"--write-subs",
		"--sub-langs", "en.*",
		"--sub-format", "vtt",
		"--no-playlist",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
	}
	args = append(args, cookieArgs...)
	args = append(args, videoURL)

	// A failed fetch is treated the same as no captions; the fallback
	// path covers it.
	if _, _, err := c.run(ctx, args); err != nil {
		return ""
	}
	return findCaptionFile(dir, videoID)
}

// DownloadAudio downloads the selected format into dir as source.<ext> and
// returns the downloaded path.
func (c *CLI) DownloadAudio(ctx context.Context, videoURL, formatID, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.WrapError(services.CodeDownloadFailed, "create download dir", err)
	}

	args := []string{
		"--no-playlist",
		"-f", formatID,
		"-o", filepath.Join(dir, "source.%(ext)s"),
	}
	args = append(args, c.cookies.args()...)
	args = append(args, videoURL)

	if _, stderr, err := c.run(ctx, args); err != nil {
		return "", services.WrapError(services.CodeDownloadFailed,
			fmt.Sprintf("download audio: %s", truncate(stderr, 300)), err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "source.*"))
	if len(matches) == 0 {
		return "", services.NewError(services.CodeDownloadFailed, "no audio file found after download")
	}
	return matches[0], nil
}

func (c *CLI) run(ctx context.Context, args []string) ([]byte, string, error) {
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// classifyFetchError maps yt-dlp stderr text onto the error taxonomy. The
// patterns follow what yt-dlp actually prints for each failure class.
func classifyFetchError(stderr string, cause error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(stderr, "Video unavailable"), strings.Contains(stderr, "is not available"):
		return services.WrapError(services.CodeVideoUnavailable,
			fmt.Sprintf("video unavailable: %s", truncate(stderr, 200)), cause)
	case strings.Contains(lower, "geo"), strings.Contains(lower, "country"):
		return services.WrapError(services.CodeGeoBlocked,
			fmt.Sprintf("geo-blocked: %s", truncate(stderr, 200)), cause)
	case strings.Contains(stderr, "Sign in"), strings.Contains(lower, "age-restricted"), strings.Contains(lower, "consent"):
		return services.WrapError(services.CodeRestrictedContent,
			fmt.Sprintf("restricted content: %s", truncate(stderr, 200)), cause)
	default:
		return services.WrapError(services.CodeNetworkTransient,
			fmt.Sprintf("yt-dlp failed: %s", truncate(stderr, 300)), cause)
	}
}

// findCaptionFile picks the English creator track out of whatever yt-dlp
// wrote into dir.
func findCaptionFile(dir, videoID string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, videoID+"*.vtt"))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(dir, "*.en*.vtt"))
	}
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		name := strings.ToLower(filepath.Base(m))
		if strings.Contains(name, ".en.") || strings.Contains(name, ".en-") {
			return m
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
