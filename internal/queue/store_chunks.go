package queue

import (
	"context"
	"database/sql"
	"fmt"

	"scribe/internal/services"
)

// CreateChunks bulk-inserts chunk records for a job.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO job_chunks (job_id, idx, start_sec, end_sec, status, attempts)
         VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		status := chunk.Status
		if status == "" {
			status = ChunkPending
		}
		if _, err := stmt.ExecContext(ctx, chunk.JobID, chunk.Index, chunk.StartSec, chunk.EndSec, status, chunk.Attempts); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}
	return tx.Commit()
}

// ChunksForJob returns a job's chunks ordered by index.
func (s *Store) ChunksForJob(ctx context.Context, jobID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, idx, start_sec, end_sec, status, attempts, error_code, error_message
         FROM job_chunks WHERE job_id = ? ORDER BY idx`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			chunk        Chunk
			status       string
			errorCode    sql.NullString
			errorMessage sql.NullString
		)
		if err := rows.Scan(&chunk.JobID, &chunk.Index, &chunk.StartSec, &chunk.EndSec, &status, &chunk.Attempts, &errorCode, &errorMessage); err != nil {
			return nil, err
		}
		chunk.Status = ChunkStatus(status)
		chunk.ErrorCode = errorCode.String
		chunk.ErrorMessage = errorMessage.String
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkDone records a successful transcription attempt for a chunk.
func (s *Store) MarkChunkDone(ctx context.Context, jobID string, index int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE job_chunks
         SET status = ?, attempts = attempts + 1, error_code = NULL, error_message = NULL
         WHERE job_id = ? AND idx = ?`,
		ChunkDone, jobID, index,
	)
	if err != nil {
		return fmt.Errorf("mark chunk done: %w", err)
	}
	return nil
}

// MarkChunkFailed records a failed transcription attempt for a chunk.
func (s *Store) MarkChunkFailed(ctx context.Context, jobID string, index int, details services.ErrorDetails) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE job_chunks
         SET status = ?, attempts = attempts + 1, error_code = ?, error_message = ?
         WHERE job_id = ? AND idx = ?`,
		ChunkFailed,
		nullableString(string(details.Code)),
		nullableString(services.TruncateMessage(details.Message)),
		jobID, index,
	)
	if err != nil {
		return fmt.Errorf("mark chunk failed: %w", err)
	}
	return nil
}

// DeleteChunks removes all chunk records for a job (retry or removal).
func (s *Store) DeleteChunks(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
