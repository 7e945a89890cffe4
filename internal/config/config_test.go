package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribe/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, found, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Fatalf("expected missing config at %s", path)
	}
	if cfg.Chunking.ChunkSeconds != 3600 {
		t.Fatalf("unexpected default chunk size: %d", cfg.Chunking.ChunkSeconds)
	}
	if cfg.ChunkThresholdSeconds() != 7200 {
		t.Fatalf("unexpected threshold: %v", cfg.ChunkThresholdSeconds())
	}
	if cfg.Workflow.MaxAutoRetries != 1 {
		t.Fatalf("unexpected retry default: %d", cfg.Workflow.MaxAutoRetries)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
output_dir = "` + filepath.Join(dir, "out") + `"
workspace_dir = "` + filepath.Join(dir, "work") + `"

[chunking]
chunk_seconds = 1800
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, found, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatal("expected config file to be found")
	}
	if cfg.Chunking.ChunkSeconds != 1800 {
		t.Fatalf("override not applied: %d", cfg.Chunking.ChunkSeconds)
	}
	if cfg.Chunking.OverlapSeconds != 2 {
		t.Fatalf("default lost during merge: %d", cfg.Chunking.OverlapSeconds)
	}
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = "/tmp/out"
	cfg.WorkspaceDir = "/tmp/work"
	cfg.Chunking.OverlapSeconds = cfg.Chunking.ChunkSeconds
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "overlap_seconds") {
		t.Fatalf("expected overlap validation failure, got %v", err)
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = "/tmp/out"
	cfg.WorkspaceDir = "/tmp/work"
	cfg.Logging.Format = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected log format validation failure")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
