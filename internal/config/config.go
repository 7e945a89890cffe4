package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir    string `toml:"output_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Cookies controls whether yt-dlp invocations attach a cookies file.
type Cookies struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Deepgram contains speech-to-text service configuration.
type Deepgram struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// Chunking controls long-recording segmentation.
type Chunking struct {
	ThresholdHours  float64 `toml:"threshold_hours"`
	ChunkSeconds    int     `toml:"chunk_seconds"`
	OverlapSeconds  int     `toml:"overlap_seconds"`
	MinChunkSeconds int     `toml:"min_chunk_seconds"`
}

// Workflow contains worker loop timing and retry policy.
type Workflow struct {
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	MaxAutoRetries     int  `toml:"max_auto_retries"`
	KeepDebugArtifacts bool `toml:"keep_debug_artifacts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completion     bool   `toml:"completion"`
	Errors         bool   `toml:"errors"`
}

// Logging controls log output format and retention.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the root configuration document.
type Config struct {
	Paths         `toml:"paths"`
	Cookies       Cookies       `toml:"cookies"`
	Deepgram      Deepgram      `toml:"deepgram"`
	Chunking      Chunking      `toml:"chunking"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`

	YtDlpBin   string `toml:"ytdlp_bin"`
	FfmpegBin  string `toml:"ffmpeg_bin"`
	FfprobeBin string `toml:"ffprobe_bin"`
}

// DefaultConfigPath returns the expected location of the user config file.
func DefaultConfigPath() string {
	return expandPath("~/.config/scribe/config.toml")
}

// Load reads configuration from path (or the default location when empty),
// merges it over defaults, expands home-relative paths, and validates the
// result. The second return reports the path consulted and the third whether
// a file was found there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	resolved = expandPath(resolved)

	data, err := os.ReadFile(resolved)
	found := err == nil
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, resolved, false, fmt.Errorf("read config %s: %w", resolved, err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, found, err
	}
	return &cfg, resolved, found, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.OutputDir, c.WorkspaceDir, c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ChunkThresholdSeconds returns the chunking threshold in seconds.
func (c *Config) ChunkThresholdSeconds() float64 {
	return c.Chunking.ThresholdHours * 3600
}

func (c *Config) normalize() {
	c.OutputDir = expandPath(c.OutputDir)
	c.WorkspaceDir = expandPath(c.WorkspaceDir)
	c.LogDir = expandPath(c.LogDir)
	c.Cookies.Path = expandPath(c.Cookies.Path)
	c.Deepgram.BaseURL = strings.TrimRight(strings.TrimSpace(c.Deepgram.BaseURL), "/")
	if key := strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")); key != "" && c.Deepgram.APIKey == "" {
		c.Deepgram.APIKey = key
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
