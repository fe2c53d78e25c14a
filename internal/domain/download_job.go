package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a download job
type JobStatus string

// Job status constants
const (
	JobStatusRequested JobStatus = "requested"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true for succeeded and failed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// IsActive returns true while the job may still produce an asset
func (s JobStatus) IsActive() bool {
	return s == JobStatusRequested || s == JobStatusRunning || s == JobStatusRetrying
}

// DefaultMaxAttempts bounds how many times the extractor runs for one job
const DefaultMaxAttempts = 3

// DownloadJob is a request to materialize a MediaAsset
type DownloadJob struct {
	ID       string
	Identity string
	Source   SourceReference
	Format   OutputFormat

	// LogicalName is the asset file name, <content id><ext>
	LogicalName string

	// State
	Status   JobStatus
	Progress float64

	// Retry handling
	Attempts    int
	MaxAttempts int
	LastError   string
	Permanent   bool

	// Result
	AssetPath string

	// Timestamps
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// NewDownloadJob creates a job in the requested state
func NewDownloadJob(id, identity string, source SourceReference, format OutputFormat, maxAttempts int) *DownloadJob {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now()
	return &DownloadJob{
		ID:          id,
		Identity:    identity,
		Source:      source,
		Format:      format,
		LogicalName: source.ContentID + format.Extension(),
		Status:      JobStatusRequested,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CanRetry returns true if another attempt fits in the budget
func (j *DownloadJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Start begins a new attempt
func (j *DownloadJob) Start() error {
	if j.Status != JobStatusRequested && j.Status != JobStatusRetrying {
		return fmt.Errorf("%w: cannot start job in state %s", ErrInvalidStateTransition, j.Status)
	}
	j.Status = JobStatusRunning
	j.Attempts++
	j.Progress = 0
	j.UpdatedAt = time.Now()
	return nil
}

// SetProgress records the extractor's progress fraction, clamped to [0, 1]
func (j *DownloadJob) SetProgress(fraction float64) {
	if j.Status != JobStatusRunning {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	j.Progress = fraction
	j.UpdatedAt = time.Now()
}

// Succeed marks the job complete with the final asset path
func (j *DownloadJob) Succeed(assetPath string) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: cannot succeed job in state %s", ErrInvalidStateTransition, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusSucceeded
	j.Progress = 1
	j.AssetPath = assetPath
	j.LastError = ""
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

// SucceedExisting completes a job whose asset is already on disk, without an attempt
func (j *DownloadJob) SucceedExisting(assetPath string) error {
	if j.Status != JobStatusRequested {
		return fmt.Errorf("%w: cannot complete job in state %s", ErrInvalidStateTransition, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusSucceeded
	j.Progress = 1
	j.AssetPath = assetPath
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

// Interrupt returns a running job to requested. The interrupted attempt is not counted.
func (j *DownloadJob) Interrupt() error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: cannot interrupt job in state %s", ErrInvalidStateTransition, j.Status)
	}
	j.Status = JobStatusRequested
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.Progress = 0
	j.UpdatedAt = time.Now()
	return nil
}

// Fail records a failed attempt. LastError keeps only the client-safe message.
// Returns true if the job moved to retrying, false if it is now terminally failed.
func (j *DownloadJob) Fail(err error) (bool, error) {
	if j.Status != JobStatusRunning {
		return false, fmt.Errorf("%w: cannot fail job in state %s", ErrInvalidStateTransition, j.Status)
	}
	now := time.Now()
	j.UpdatedAt = now
	if err != nil {
		j.LastError = PublicMessage(err)
	}

	if IsPermanent(err) {
		j.Permanent = true
	} else if j.CanRetry() {
		j.Status = JobStatusRetrying
		return true, nil
	}

	j.Status = JobStatusFailed
	j.FinishedAt = &now
	return false, nil
}

// Snapshot returns a copy safe to hand to other goroutines
func (j *DownloadJob) Snapshot() DownloadJob {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// JobEvent is published to subscribers on every observable change of a job
type JobEvent struct {
	JobID    string
	Status   JobStatus
	Progress float64
	Attempt  int
	Error    string
}

// Event returns the subscriber view of the job's current state
func (j *DownloadJob) Event() JobEvent {
	return JobEvent{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Attempt:  j.Attempts,
		Error:    j.LastError,
	}
}

// JobStats represents download queue statistics
type JobStats struct {
	RequestedCount int
	RunningCount   int
	RetryingCount  int
	SucceededCount int
	FailedCount    int
}
