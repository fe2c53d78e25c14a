package event

import (
	"time"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Event names
const (
	NameJobRequested = "download_job.requested"
	NameJobStarted   = "download_job.started"
	NameJobRetrying  = "download_job.retrying"
	NameJobSucceeded = "download_job.succeeded"
	NameJobFailed    = "download_job.failed"
	NameAssetServed  = "asset.served"
)

// JobRequested is raised when a new download job is accepted
type JobRequested struct {
	BaseEvent
	JobID    string
	Identity string
	SourceID string
	Format   string
}

// EventName returns the event name
func (e JobRequested) EventName() string {
	return NameJobRequested
}

// NewJobRequested creates a new JobRequested event
func NewJobRequested(jobID, identity, sourceID, format string) JobRequested {
	return JobRequested{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Identity:  identity,
		SourceID:  sourceID,
		Format:    format,
	}
}

// JobStarted is raised when an extraction attempt begins
type JobStarted struct {
	BaseEvent
	JobID   string
	Attempt int
}

// EventName returns the event name
func (e JobStarted) EventName() string {
	return NameJobStarted
}

// NewJobStarted creates a new JobStarted event
func NewJobStarted(jobID string, attempt int) JobStarted {
	return JobStarted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Attempt:   attempt,
	}
}

// JobRetrying is raised when a transient failure schedules another attempt
type JobRetrying struct {
	BaseEvent
	JobID      string
	Attempt    int
	Error      string
	RetryAfter time.Duration
}

// EventName returns the event name
func (e JobRetrying) EventName() string {
	return NameJobRetrying
}

// NewJobRetrying creates a new JobRetrying event
func NewJobRetrying(jobID string, attempt int, errMsg string, retryAfter time.Duration) JobRetrying {
	return JobRetrying{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		JobID:      jobID,
		Attempt:    attempt,
		Error:      errMsg,
		RetryAfter: retryAfter,
	}
}

// JobSucceeded is raised when the asset has been committed
type JobSucceeded struct {
	BaseEvent
	JobID     string
	Identity  string
	AssetPath string
	Size      int64
	Duration  time.Duration
}

// EventName returns the event name
func (e JobSucceeded) EventName() string {
	return NameJobSucceeded
}

// NewJobSucceeded creates a new JobSucceeded event
func NewJobSucceeded(jobID, identity, assetPath string, size int64, duration time.Duration) JobSucceeded {
	return JobSucceeded{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Identity:  identity,
		AssetPath: assetPath,
		Size:      size,
		Duration:  duration,
	}
}

// JobFailed is raised when a job reaches the failed state
type JobFailed struct {
	BaseEvent
	JobID     string
	Attempts  int
	Error     string
	Permanent bool
}

// EventName returns the event name
func (e JobFailed) EventName() string {
	return NameJobFailed
}

// NewJobFailed creates a new JobFailed event
func NewJobFailed(jobID string, attempts int, errMsg string, permanent bool) JobFailed {
	return JobFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Attempts:  attempts,
		Error:     errMsg,
		Permanent: permanent,
	}
}

// AssetServed is raised after a streaming response finished
type AssetServed struct {
	BaseEvent
	Identity string
	Name     string
	Bytes    int64
	Partial  bool
}

// EventName returns the event name
func (e AssetServed) EventName() string {
	return NameAssetServed
}

// NewAssetServed creates a new AssetServed event
func NewAssetServed(identity, name string, bytes int64, partial bool) AssetServed {
	return AssetServed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Identity:  identity,
		Name:      name,
		Bytes:     bytes,
		Partial:   partial,
	}
}
