// Package logging provides slog construction and the shared attribute
// helpers used for structured log fields across the pipeline.
package logging
