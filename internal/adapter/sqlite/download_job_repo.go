package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vertextoedge/media-vault/internal/domain"
)

const jobColumns = `id, identity, content_id, source_url, format, logical_name, status,
	progress, attempts, max_attempts, last_error, permanent, asset_path,
	created_at, updated_at, finished_at`

// SaveJob inserts or replaces a job
func (s *Store) SaveJob(job *domain.DownloadJob) error {
	query := `
		INSERT INTO download_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			attempts = excluded.attempts,
			max_attempts = excluded.max_attempts,
			last_error = excluded.last_error,
			permanent = excluded.permanent,
			asset_path = excluded.asset_path,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
	`

	_, err := s.db.Exec(query,
		job.ID, job.Identity, job.Source.ContentID, job.Source.URL, string(job.Format),
		job.LogicalName, string(job.Status), job.Progress, job.Attempts, job.MaxAttempts,
		nullString(job.LastError), job.Permanent, nullString(job.AssetPath),
		toMillis(job.CreatedAt), toMillis(job.UpdatedAt), nullMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*domain.DownloadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM download_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobsByIdentity returns the most recent jobs of an identity, newest first
func (s *Store) ListJobsByIdentity(identity string, limit int) ([]*domain.DownloadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + jobColumns + `
		FROM download_jobs
		WHERE identity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListActiveJobs returns jobs that have not reached a terminal state, oldest first
func (s *Store) ListActiveJobs() ([]*domain.DownloadJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM download_jobs
		WHERE status IN (?, ?, ?)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.Query(query,
		string(domain.JobStatusRequested), string(domain.JobStatusRunning), string(domain.JobStatusRetrying))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// UpdateProgress records progress of a running job
func (s *Store) UpdateProgress(id string, progress float64) error {
	query := `
		UPDATE download_jobs
		SET progress = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	_, err := s.db.Exec(query, progress, toMillis(time.Now()), id, string(domain.JobStatusRunning))
	return err
}

// GetJobStats returns job counts by status
func (s *Store) GetJobStats() (*domain.JobStats, error) {
	stats := &domain.JobStats{}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM download_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		switch domain.JobStatus(status) {
		case domain.JobStatusRequested:
			stats.RequestedCount = count
		case domain.JobStatusRunning:
			stats.RunningCount = count
		case domain.JobStatusRetrying:
			stats.RetryingCount = count
		case domain.JobStatusSucceeded:
			stats.SucceededCount = count
		case domain.JobStatusFailed:
			stats.FailedCount = count
		}
	}

	return stats, rows.Err()
}

// CleanupFinishedJobs removes terminal jobs finished before now-olderThan
func (s *Store) CleanupFinishedJobs(olderThan time.Duration) (int, error) {
	cutoff := toMillis(time.Now().Add(-olderThan))

	result, err := s.db.Exec(
		`DELETE FROM download_jobs
		 WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(domain.JobStatusSucceeded), string(domain.JobStatusFailed), cutoff)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single job row
func scanJob(row rowScanner) (*domain.DownloadJob, error) {
	job := &domain.DownloadJob{}
	var format, status string
	var lastError, assetPath sql.NullString
	var createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Identity, &job.Source.ContentID, &job.Source.URL, &format,
		&job.LogicalName, &status, &job.Progress, &job.Attempts, &job.MaxAttempts,
		&lastError, &job.Permanent, &assetPath,
		&createdAt, &updatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Format = domain.OutputFormat(format)
	job.Status = domain.JobStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	if lastError.Valid {
		job.LastError = lastError.String
	}
	if assetPath.Valid {
		job.AssetPath = assetPath.String
	}
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		job.FinishedAt = &t
	}

	return job, nil
}

// scanJobs scans multiple job rows
func scanJobs(rows *sql.Rows) ([]*domain.DownloadJob, error) {
	jobs := make([]*domain.DownloadJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
