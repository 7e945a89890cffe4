// Package queue persists transcription jobs and their chunk sub-tasks in
// SQLite. The store is the single source of truth for job status; the
// workflow manager is the only writer of status transitions.
package queue
