package repository

import (
	"time"

	"github.com/vertextoedge/media-vault/internal/domain"
)

// DownloadJobRepository defines the interface for download job persistence
type DownloadJobRepository interface {
	// SaveJob inserts or replaces a job
	SaveJob(job *domain.DownloadJob) error

	// GetJob retrieves a job by ID
	// Returns domain.ErrJobNotFound if it does not exist
	GetJob(id string) (*domain.DownloadJob, error)

	// ListJobsByIdentity returns the most recent jobs of an identity, newest first
	ListJobsByIdentity(identity string, limit int) ([]*domain.DownloadJob, error)

	// ListActiveJobs returns jobs that have not reached a terminal state, oldest first
	ListActiveJobs() ([]*domain.DownloadJob, error)

	// UpdateProgress records progress of a running job
	UpdateProgress(id string, progress float64) error

	// GetJobStats returns job counts by status
	GetJobStats() (*domain.JobStats, error)

	// CleanupFinishedJobs removes terminal jobs finished before now-olderThan
	CleanupFinishedJobs(olderThan time.Duration) (int, error)
}
