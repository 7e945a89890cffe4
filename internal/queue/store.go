package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"scribe/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.LogDir, "queue.db"))
}

// OpenPath opens a store at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTables); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// NewJob inserts a job in QUEUED state. videoID may be empty when the URL
// has not been validated yet.
func (s *Store) NewJob(ctx context.Context, sourceURL, videoID string) (*Job, error) {
	if sourceURL == "" {
		return nil, errors.New("source url must not be empty")
	}
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, source_url, video_id, status, progress_pct, retry_count,
            retryable, used_creator_captions, created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, 0, 0, 0, ?, ?)`,
		id,
		sourceURL,
		nullableString(videoID),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListQueued returns queued jobs ordered by creation, oldest first.
func (s *Store) ListQueued(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// NextQueued returns the oldest queued job, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job, always touching the updated
// timestamp. Transitions into a terminal status stamp completed_at once.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		done := job.UpdatedAt
		job.CompletedAt = &done
	}
	if !job.Status.IsTerminal() {
		job.CompletedAt = nil
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET source_url = ?, video_id = ?, title = ?, status = ?, stage = ?,
             progress_pct = ?, retry_count = ?, error_code = ?, error_message = ?,
             retryable = ?, used_creator_captions = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		job.SourceURL,
		nullableString(job.VideoID),
		nullableString(job.Title),
		job.Status,
		nullableString(string(job.Stage)),
		job.ProgressPct,
		job.RetryCount,
		nullableString(job.ErrorCode),
		nullableString(job.ErrorMessage),
		boolToInt(job.Retryable),
		boolToInt(job.UsedCreatorCaptions),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SkipIfCompletedDuplicate atomically checks whether another job already
// COMPLETED the same video id and, if so, marks this job SKIPPED with the
// given stage reason. The read and write share one transaction so two
// concurrently-created jobs for the same video cannot both pass.
func (s *Store) SkipIfCompletedDuplicate(ctx context.Context, jobID, videoID, stageReason string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin duplicate check: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(
		ctx,
		`SELECT 1 FROM jobs WHERE video_id = ? AND status = ? AND id != ? LIMIT 1`,
		videoID, StatusCompleted, jobID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("duplicate lookup: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, stage = ?, progress_pct = 100, completed_at = ?, updated_at = ? WHERE id = ?`,
		StatusSkipped, stageReason, now, now, jobID,
	); err != nil {
		return false, fmt.Errorf("mark duplicate skipped: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit duplicate check: %w", err)
	}
	return true, nil
}

// MarkSkipped records a non-duplicate-store skip (e.g. transcript already
// on disk) as a terminal SKIPPED state.
func (s *Store) MarkSkipped(ctx context.Context, jobID, stageReason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, stage = ?, progress_pct = 100, completed_at = ?, updated_at = ? WHERE id = ?`,
		StatusSkipped, stageReason, now, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	return nil
}

// HasCompletedVideo reports whether any job already completed this video id.
func (s *Store) HasCompletedVideo(ctx context.Context, videoID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM jobs WHERE video_id = ? AND status = ? LIMIT 1`,
		videoID, StatusCompleted,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("completed video lookup: %w", err)
	}
	return true, nil
}

// ResetStuckRunning returns RUNNING jobs to QUEUED. Called at daemon start
// so jobs interrupted by a crash or shutdown are picked up again.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, stage = NULL, progress_pct = 0, updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job and its chunks. A running job is left in place so
// the worker never loses the row it is updating.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status != ?`, id, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete job chunks: %w", err)
	}
	return true, nil
}

// ClearQueued removes all QUEUED jobs.
func (s *Store) ClearQueued(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, StatusQueued)
	if err != nil {
		return 0, fmt.Errorf("clear queued jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const jobColumns = "id, source_url, video_id, title, status, stage, progress_pct, retry_count, error_code, error_message, retryable, used_creator_captions, created_at, updated_at, completed_at"

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		sourceURL    string
		videoID      sql.NullString
		title        sql.NullString
		statusStr    string
		stage        sql.NullString
		progressPct  int
		retryCount   int
		errorCode    sql.NullString
		errorMessage sql.NullString
		retryable    int
		usedCaptions int
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceURL,
		&videoID,
		&title,
		&statusStr,
		&stage,
		&progressPct,
		&retryCount,
		&errorCode,
		&errorMessage,
		&retryable,
		&usedCaptions,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                  id,
		SourceURL:           sourceURL,
		VideoID:             videoID.String,
		Title:               title.String,
		Status:              Status(statusStr),
		Stage:               Stage(stage.String),
		ProgressPct:         progressPct,
		RetryCount:          retryCount,
		ErrorCode:           errorCode.String,
		ErrorMessage:        errorMessage.String,
		Retryable:           retryable != 0,
		UsedCreatorCaptions: usedCaptions != 0,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
