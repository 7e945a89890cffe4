package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate confirms the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.OutputDir) == "" {
		problems = append(problems, "paths.output_dir must not be empty")
	}
	if strings.TrimSpace(c.WorkspaceDir) == "" {
		problems = append(problems, "paths.workspace_dir must not be empty")
	}
	if c.Chunking.ThresholdHours <= 0 {
		problems = append(problems, "chunking.threshold_hours must be positive")
	}
	if c.Chunking.ChunkSeconds <= 0 {
		problems = append(problems, "chunking.chunk_seconds must be positive")
	}
	if c.Chunking.OverlapSeconds < 0 {
		problems = append(problems, "chunking.overlap_seconds must not be negative")
	}
	if c.Chunking.OverlapSeconds >= c.Chunking.ChunkSeconds {
		problems = append(problems, "chunking.overlap_seconds must be smaller than chunk_seconds")
	}
	if c.Chunking.MinChunkSeconds <= 0 {
		problems = append(problems, "chunking.min_chunk_seconds must be positive")
	}
	if c.Workflow.MaxAutoRetries < 0 {
		problems = append(problems, "workflow.max_auto_retries must not be negative")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		problems = append(problems, "workflow.queue_poll_interval must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}
	if c.Cookies.Enabled && strings.TrimSpace(c.Cookies.Path) == "" {
		problems = append(problems, "cookies.path must be set when cookies.enabled is true")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
