package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/geoharvest/internal/domain"
)

// StartJob records a running job for source.
func (s *Store) StartJob(ctx context.Context, source string) (*domain.JobRecord, error) {
	job := &domain.JobRecord{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    domain.JobRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs (id, source, status, started_at) VALUES (?, ?, ?, ?)",
		job.ID, job.Source, string(job.Status), job.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// AddJobError records an item-level failure against a job.
func (s *Store) AddJobError(ctx context.Context, jobID, remoteID, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_errors (job_id, remote_id, message, created_at) VALUES (?, ?, ?, ?)",
		jobID, remoteID, message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job error: %w", err)
	}
	return nil
}

// FinishJob stores the final status and counters of job and stamps EndedAt.
func (s *Store) FinishJob(ctx context.Context, job *domain.JobRecord) error {
	ended := time.Now().UTC()
	job.EndedAt = &ended
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, ended_at = ?, items = ?, failed = ?, stale = ?, error = ? WHERE id = ?",
		string(job.Status), ended, job.Items, job.Failed, job.Stale, job.Error, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

const jobColumns = "id, source, status, started_at, ended_at, items, failed, stale, error"

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var (
		job    domain.JobRecord
		status string
		ended  sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Source, &status, &job.StartedAt, &ended,
		&job.Items, &job.Failed, &job.Stale, &job.Error)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if ended.Valid {
		t := ended.Time
		job.EndedAt = &t
	}
	return &job, nil
}

// ListJobs returns recent jobs, optionally for one source only.
func (s *Store) ListJobs(ctx context.Context, source string, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if source != "" {
		q += " WHERE source = ?"
		args = append(args, source)
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJob retrieves a job by ID with its item errors
func (s *Store) GetJob(ctx context.Context, id string) (*domain.JobRecord, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT remote_id, message, created_at FROM job_errors WHERE job_id = ? ORDER BY rowid",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get job errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.JobError
		if err := rows.Scan(&e.RemoteID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		job.Errors = append(job.Errors, e)
	}
	return job, rows.Err()
}
