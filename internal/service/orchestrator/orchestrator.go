package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/event"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/port"
	"github.com/vertextoedge/media-vault/internal/util/ratelimiter"
)

// Config contains orchestrator configuration
type Config struct {
	ConcurrentJobs      int
	MaxAttempts         int
	RunTimeout          time.Duration
	RetryBackoff        []time.Duration
	ProgressInterval    time.Duration
	MaxDiskUsagePercent float64
	OverwriteExisting   bool
	QueueSize           int
	SubscriberBuffer    int
	CopyBufferSize      int
	// DefaultFormat applies when a submit names no format
	DefaultFormat string
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		ConcurrentJobs:      2,
		MaxAttempts:         domain.DefaultMaxAttempts,
		RunTimeout:          15 * time.Minute,
		RetryBackoff:        []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute},
		ProgressInterval:    2 * time.Second,
		MaxDiskUsagePercent: 90,
		QueueSize:           256,
		SubscriberBuffer:    32,
		CopyBufferSize:      1024 * 1024,
	}
}

// SubmitResult is the outcome of Submit
type SubmitResult struct {
	Job domain.DownloadJob
	// Created is false when an active job for the same asset was returned
	Created bool
}

// Orchestrator runs download jobs on a bounded worker pool
type Orchestrator struct {
	config     *Config
	extractor  port.Extractor
	assets     port.AssetStore
	jobs       port.DownloadJobRepository
	guard      *SpaceGuard
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	queue chan string

	mu     sync.Mutex
	active map[string]*domain.DownloadJob // by job id
	byName map[string]string              // identity/logical name -> job id
	subs   map[string]map[chan domain.JobEvent]struct{}

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Orchestrator
func New(
	cfg *Config,
	extractor port.Extractor,
	assets port.AssetStore,
	jobs port.DownloadJobRepository,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Orchestrator {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.ConcurrentJobs <= 0 {
		cfg.ConcurrentJobs = def.ConcurrentJobs
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if len(cfg.RetryBackoff) == 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.CopyBufferSize <= 0 {
		cfg.CopyBufferSize = def.CopyBufferSize
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	return &Orchestrator{
		config:     cfg,
		extractor:  extractor,
		assets:     assets,
		jobs:       jobs,
		guard:      NewSpaceGuard(assets, cfg.MaxDiskUsagePercent),
		dispatcher: dispatcher,
		logger:     logger,
		queue:      make(chan string, cfg.QueueSize),
		active:     make(map[string]*domain.DownloadJob),
		byName:     make(map[string]string),
		subs:       make(map[string]map[chan domain.JobEvent]struct{}),
	}
}

// Start recovers unfinished jobs and runs the worker pool until ctx is done or Stop is called
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.runMu.Unlock()

	if err := o.recover(); err != nil {
		o.logger.Warn("failed to recover unfinished jobs", zap.Error(err))
	}

	o.logger.Info("orchestrator started",
		zap.Int("workers", o.config.ConcurrentJobs),
		zap.Int("max_attempts", o.config.MaxAttempts))

	for i := 0; i < o.config.ConcurrentJobs; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	<-ctx.Done()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
	return nil
}

// Stop stops the orchestrator
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.running = false
}

// Submit creates a download job for identity, or returns the active one for the same asset
func (o *Orchestrator) Submit(identity vo.Identity, source, format string) (*SubmitResult, error) {
	ref, err := domain.ParseSourceReference(source)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = o.config.DefaultFormat
	}
	outFormat, err := domain.ParseOutputFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	job := domain.NewDownloadJob(ksuid.New().String(), identity.String(), ref, outFormat, o.config.MaxAttempts)
	name, err := vo.NewAssetName(job.LogicalName)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	key := nameKey(identity.String(), job.LogicalName)
	if id, ok := o.byName[key]; ok {
		if existing, ok := o.active[id]; ok && existing.Status.IsActive() {
			return &SubmitResult{Job: existing.Snapshot(), Created: false}, nil
		}
	}

	if !o.config.OverwriteExisting {
		path := o.assets.ResolvePath(identity, name)
		exists, _, err := o.assets.Stat(path)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := job.SucceedExisting(path); err != nil {
				return nil, err
			}
			if err := o.jobs.SaveJob(job); err != nil {
				return nil, fmt.Errorf("%w: failed to save job: %v", domain.ErrUnavailable, err)
			}
			o.logger.Debug("asset already present",
				zap.String("job_id", job.ID),
				zap.String("identity", job.Identity),
				zap.String("name", job.LogicalName))
			return &SubmitResult{Job: job.Snapshot(), Created: true}, nil
		}
	}

	if err := o.jobs.SaveJob(job); err != nil {
		return nil, fmt.Errorf("%w: failed to save job: %v", domain.ErrUnavailable, err)
	}

	select {
	case o.queue <- job.ID:
	default:
		job.LastError = "queue is full"
		_ = o.markFailedLocked(job)
		return nil, domain.NewRetryableError(fmt.Errorf("%w: download queue is full", domain.ErrUnavailable), 0)
	}

	o.active[job.ID] = job
	o.byName[key] = job.ID
	o.dispatcher.Dispatch(event.NewJobRequested(job.ID, job.Identity, ref.ContentID, outFormat.String()))

	return &SubmitResult{Job: job.Snapshot(), Created: true}, nil
}

// Get returns a snapshot of a job
func (o *Orchestrator) Get(id string) (domain.DownloadJob, error) {
	o.mu.Lock()
	if job, ok := o.active[id]; ok {
		snap := job.Snapshot()
		o.mu.Unlock()
		return snap, nil
	}
	o.mu.Unlock()

	job, err := o.jobs.GetJob(id)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	return *job, nil
}

// List returns recent jobs of an identity, with live state for active jobs
func (o *Orchestrator) List(identity vo.Identity, limit int) ([]domain.DownloadJob, error) {
	stored, err := o.jobs.ListJobsByIdentity(identity.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list jobs: %v", domain.ErrUnavailable, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return lo.Map(stored, func(j *domain.DownloadJob, _ int) domain.DownloadJob {
		if live, ok := o.active[j.ID]; ok {
			return live.Snapshot()
		}
		return *j
	}), nil
}

// Subscribe streams events of a job until it is terminal.
// The channel is closed after the terminal event or when cancel is called.
func (o *Orchestrator) Subscribe(id string) (<-chan domain.JobEvent, func(), error) {
	o.mu.Lock()
	job, ok := o.active[id]
	if ok {
		ch := make(chan domain.JobEvent, o.config.SubscriberBuffer)
		ch <- job.Event()
		if o.subs[id] == nil {
			o.subs[id] = make(map[chan domain.JobEvent]struct{})
		}
		o.subs[id][ch] = struct{}{}
		o.mu.Unlock()

		var once sync.Once
		cancel := func() {
			once.Do(func() {
				o.mu.Lock()
				defer o.mu.Unlock()
				if set, ok := o.subs[id]; ok {
					if _, ok := set[ch]; ok {
						delete(set, ch)
						close(ch)
					}
					if len(set) == 0 {
						delete(o.subs, id)
					}
				}
			})
		}
		return ch, cancel, nil
	}
	o.mu.Unlock()

	// Not active: report the stored state once
	stored, err := o.jobs.GetJob(id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan domain.JobEvent, 1)
	ch <- stored.Event()
	close(ch)
	return ch, func() {}, nil
}

// Wait blocks until the job is terminal and returns its final snapshot
func (o *Orchestrator) Wait(ctx context.Context, id string) (domain.DownloadJob, error) {
	events, cancel, err := o.Subscribe(id)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return domain.DownloadJob{}, ctx.Err()
		case ev, ok := <-events:
			if !ok || ev.Status.IsTerminal() {
				return o.Get(id)
			}
		}
	}
}

// GetStats returns job statistics
func (o *Orchestrator) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	jobStats, err := o.jobs.GetJobStats()
	if err != nil {
		return nil, err
	}
	stats["jobs_requested"] = jobStats.RequestedCount
	stats["jobs_running"] = jobStats.RunningCount
	stats["jobs_retrying"] = jobStats.RetryingCount
	stats["jobs_succeeded"] = jobStats.SucceededCount
	stats["jobs_failed"] = jobStats.FailedCount

	o.mu.Lock()
	stats["active_jobs"] = len(o.active)
	o.mu.Unlock()
	stats["queue_length"] = len(o.queue)
	stats["workers"] = o.config.ConcurrentJobs

	if space, err := o.guard.CheckSpace(); err == nil {
		stats["disk_used_percent"] = space.CurrentDiskUsage
		stats["max_disk_percent"] = space.MaxDiskUsage
	}

	return stats, nil
}

// recover re-enqueues persisted jobs that never reached a terminal state
func (o *Orchestrator) recover() error {
	pending, err := o.jobs.ListActiveJobs()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	recovered := 0
	for _, job := range pending {
		if _, ok := o.active[job.ID]; ok {
			continue
		}
		if job.Status == domain.JobStatusRunning {
			// The process died mid-attempt
			_ = job.Interrupt()
			if err := o.jobs.SaveJob(job); err != nil {
				o.logger.Warn("failed to save recovered job", zap.String("job_id", job.ID), zap.Error(err))
			}
		}

		select {
		case o.queue <- job.ID:
		default:
			o.logger.Warn("queue full, job left for next start", zap.String("job_id", job.ID))
			continue
		}
		o.active[job.ID] = job
		o.byName[nameKey(job.Identity, job.LogicalName)] = job.ID
		recovered++
	}

	if recovered > 0 {
		o.logger.Info("recovered unfinished jobs", zap.Int("count", recovered))
	}
	return nil
}

// worker processes jobs from the queue
func (o *Orchestrator) worker(ctx context.Context, workerID int) {
	defer o.wg.Done()

	workerName := fmt.Sprintf("worker-%d", workerID)
	o.logger.Debug("orchestrator worker started", zap.String("worker", workerName))

	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("orchestrator worker stopped", zap.String("worker", workerName))
			return
		case id := <-o.queue:
			o.mu.Lock()
			job, ok := o.active[id]
			o.mu.Unlock()
			if !ok {
				continue
			}
			o.logger.Debug("claimed download job",
				zap.String("worker", workerName),
				zap.String("job_id", id))
			o.process(ctx, job)
		}
	}
}

// process runs attempts until the job is terminal or the orchestrator stops
func (o *Orchestrator) process(ctx context.Context, job *domain.DownloadJob) {
	for {
		err := o.attempt(ctx, job)

		if ctx.Err() != nil {
			o.interrupt(job)
			return
		}

		if err == nil {
			return
		}

		retry, delay := o.recordFailure(job, err)
		if !retry {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// attempt runs the extractor once and commits the result
func (o *Orchestrator) attempt(ctx context.Context, job *domain.DownloadJob) error {
	o.mu.Lock()
	if err := job.Start(); err != nil {
		o.finishLocked(job)
		o.mu.Unlock()
		o.logger.Error("download job cannot start", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	snap := job.Snapshot()
	o.publishLocked(job)
	o.mu.Unlock()

	o.persist(&snap)
	o.dispatcher.Dispatch(event.NewJobStarted(snap.ID, snap.Attempts))

	if _, err := o.guard.Admit(); err != nil {
		return err
	}

	identity, err := vo.NewIdentity(snap.Identity)
	if err != nil {
		return domain.NewPermanentError(err, "stored identity is invalid")
	}
	name, err := vo.NewAssetName(snap.LogicalName)
	if err != nil {
		return domain.NewPermanentError(err, "logical name is invalid")
	}

	staging, err := o.assets.StagingDir(identity, snap.ID)
	if err != nil {
		return domain.NewRetryableError(err, 0)
	}
	defer func() {
		if err := o.assets.RemoveStaging(staging); err != nil {
			o.logger.Warn("failed to remove staging dir", zap.String("dir", staging), zap.Error(err))
		}
	}()

	started := time.Now()
	result, err := o.extract(ctx, job, port.ExtractRequest{
		Source:     snap.Source,
		Format:     snap.Format,
		StagingDir: staging,
	})
	if err != nil {
		return err
	}

	path, size, err := o.commit(identity, name, result.Path)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if err := job.Succeed(path); err != nil {
		o.mu.Unlock()
		return domain.NewPermanentError(err, "job cannot succeed")
	}
	final := job.Snapshot()
	o.mu.Unlock()

	// Persist before observers learn the job is terminal
	o.persist(&final)
	o.settle(job)
	o.dispatcher.Dispatch(event.NewJobSucceeded(final.ID, final.Identity, path, size, time.Since(started)))
	return nil
}

// extract runs the extractor under the run timeout, relaying progress
func (o *Orchestrator) extract(ctx context.Context, job *domain.DownloadJob, req port.ExtractRequest) (*port.ExtractResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.config.RunTimeout)
	defer cancel()

	progress := make(chan float64, 16)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		o.relayProgress(job, progress)
	}()

	result, err := o.extractor.Extract(runCtx, req, progress)
	close(progress)
	<-relayDone

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domain.NewRetryableError(
				fmt.Errorf("%w: extractor %w after %s", domain.ErrUnavailable, domain.ErrTimedOut, o.config.RunTimeout), 0)
		}
		return nil, err
	}
	if result == nil || result.Path == "" {
		return nil, domain.NewRetryableError(errors.New("extractor returned no output"), 0)
	}
	return result, nil
}

// relayProgress applies progress to the job, publishes it and persists it at most once per interval
func (o *Orchestrator) relayProgress(job *domain.DownloadJob, progress <-chan float64) {
	limiter := ratelimiter.New(o.config.ProgressInterval)
	for fraction := range progress {
		o.mu.Lock()
		job.SetProgress(fraction)
		current := job.Progress
		id := job.ID
		o.publishLocked(job)
		o.mu.Unlock()

		if ok, _ := limiter.Allow(); ok {
			if err := o.jobs.UpdateProgress(id, current); err != nil {
				o.logger.Warn("failed to update job progress", zap.String("job_id", id), zap.Error(err))
			}
		}
	}
}

// recordFailure applies a failed attempt and returns whether to retry and after how long
func (o *Orchestrator) recordFailure(job *domain.DownloadJob, cause error) (bool, time.Duration) {
	o.mu.Lock()
	retry, err := job.Fail(cause)
	if err != nil {
		o.mu.Unlock()
		o.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
		return false, 0
	}
	snap := job.Snapshot()
	o.mu.Unlock()

	o.logger.Warn("download attempt failed",
		zap.String("job_id", snap.ID),
		zap.Int("attempt", snap.Attempts),
		zap.Bool("retry", retry),
		zap.Error(cause),
	)

	o.persist(&snap)
	if retry {
		o.mu.Lock()
		o.publishLocked(job)
		o.mu.Unlock()
	} else {
		o.settle(job)
	}

	if !retry {
		o.dispatcher.Dispatch(event.NewJobFailed(snap.ID, snap.Attempts, snap.LastError, snap.Permanent))
		return false, 0
	}

	delay := o.backoff(snap.Attempts)
	if after, ok := domain.GetRetryAfter(cause); ok && after > delay {
		delay = after
	}
	o.dispatcher.Dispatch(event.NewJobRetrying(snap.ID, snap.Attempts, snap.LastError, delay))
	return true, delay
}

// interrupt parks a job interrupted by shutdown so the next start resumes it
func (o *Orchestrator) interrupt(job *domain.DownloadJob) {
	o.mu.Lock()
	if job.Status != domain.JobStatusRunning {
		o.mu.Unlock()
		return
	}
	_ = job.Interrupt()
	snap := job.Snapshot()
	o.mu.Unlock()

	o.persist(&snap)
	o.logger.Info("download job interrupted by shutdown", zap.String("job_id", snap.ID))
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(o.config.RetryBackoff) {
		idx = len(o.config.RetryBackoff) - 1
	}
	return o.config.RetryBackoff[idx]
}

func (o *Orchestrator) persist(job *domain.DownloadJob) {
	if err := o.jobs.SaveJob(job); err != nil {
		o.logger.Error("failed to persist job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
}

// markFailedLocked records a job that never entered the queue
func (o *Orchestrator) markFailedLocked(job *domain.DownloadJob) error {
	now := time.Now()
	job.Status = domain.JobStatusFailed
	job.UpdatedAt = now
	job.FinishedAt = &now
	return o.jobs.SaveJob(job)
}

// publishLocked fans the job's state out to subscribers without blocking.
// A full subscriber drops its oldest event; terminal events close the channel.
func (o *Orchestrator) publishLocked(job *domain.DownloadJob) {
	set := o.subs[job.ID]
	if len(set) == 0 {
		return
	}
	ev := job.Event()
	for ch := range set {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
		if ev.Status.IsTerminal() {
			close(ch)
		}
	}
	if ev.Status.IsTerminal() {
		delete(o.subs, job.ID)
	}
}

// settle publishes the terminal state and drops the job from the active set
func (o *Orchestrator) settle(job *domain.DownloadJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked(job)
	o.finishLocked(job)
}

// finishLocked drops a terminal job from the active set
func (o *Orchestrator) finishLocked(job *domain.DownloadJob) {
	delete(o.active, job.ID)
	key := nameKey(job.Identity, job.LogicalName)
	if o.byName[key] == job.ID {
		delete(o.byName, key)
	}
}

func nameKey(identity, logicalName string) string {
	return identity + "/" + logicalName
}
