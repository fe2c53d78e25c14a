package event

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case JobRequested:
		h.logger.Info("download job requested",
			zap.String("job_id", e.JobID),
			zap.String("identity", e.Identity),
			zap.String("source_id", e.SourceID),
			zap.String("format", e.Format),
		)
	case JobStarted:
		h.logger.Debug("download job started",
			zap.String("job_id", e.JobID),
			zap.Int("attempt", e.Attempt),
		)
	case JobRetrying:
		h.logger.Warn("download job retrying",
			zap.String("job_id", e.JobID),
			zap.Int("attempt", e.Attempt),
			zap.String("error", e.Error),
			zap.Duration("retry_after", e.RetryAfter),
		)
	case JobSucceeded:
		h.logger.Info("download job succeeded",
			zap.String("job_id", e.JobID),
			zap.String("identity", e.Identity),
			zap.String("asset_path", e.AssetPath),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case JobFailed:
		h.logger.Error("download job failed",
			zap.String("job_id", e.JobID),
			zap.Int("attempts", e.Attempts),
			zap.String("error", e.Error),
			zap.Bool("permanent", e.Permanent),
		)
	case AssetServed:
		h.logger.Debug("asset served",
			zap.String("identity", e.Identity),
			zap.String("name", e.Name),
			zap.Int64("bytes", e.Bytes),
			zap.Bool("partial", e.Partial),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{NameAll}
}

// MetricsHandler collects counters from events
type MetricsHandler struct {
	jobsRequested atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
	jobsRetried   atomic.Int64
	bytesStored   atomic.Int64
	bytesServed   atomic.Int64
	streamsServed atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case JobRequested:
		h.jobsRequested.Add(1)
	case JobRetrying:
		h.jobsRetried.Add(1)
	case JobSucceeded:
		h.jobsSucceeded.Add(1)
		h.bytesStored.Add(e.Size)
	case JobFailed:
		h.jobsFailed.Add(1)
	case AssetServed:
		h.streamsServed.Add(1)
		h.bytesServed.Add(e.Bytes)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameJobRequested,
		NameJobRetrying,
		NameJobSucceeded,
		NameJobFailed,
		NameAssetServed,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"jobs_requested": h.jobsRequested.Load(),
		"jobs_succeeded": h.jobsSucceeded.Load(),
		"jobs_failed":    h.jobsFailed.Load(),
		"jobs_retried":   h.jobsRetried.Load(),
		"bytes_stored":   h.bytesStored.Load(),
		"bytes_served":   h.bytesServed.Load(),
		"streams_served": h.streamsServed.Load(),
	}
}
