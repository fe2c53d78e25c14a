package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/adapter/filesystem"
	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/event"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/port"
)

const testVideoID = "dQw4w9WgXcQ"

// mp3Bytes starts with an ID3 tag so content sniffing sees audio/mpeg
var mp3Bytes = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 512)...)

// memJobRepo implements port.DownloadJobRepository in memory
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.DownloadJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]domain.DownloadJob)}
}

func (r *memJobRepo) SaveJob(job *domain.DownloadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Snapshot()
	return nil
}

func (r *memJobRepo) GetJob(id string) (*domain.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	snap := job.Snapshot()
	return &snap, nil
}

func (r *memJobRepo) ListJobsByIdentity(identity string, limit int) ([]*domain.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DownloadJob
	for _, job := range r.jobs {
		if job.Identity == identity {
			snap := job.Snapshot()
			out = append(out, &snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobRepo) ListActiveJobs() ([]*domain.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DownloadJob
	for _, job := range r.jobs {
		if job.Status.IsActive() {
			snap := job.Snapshot()
			out = append(out, &snap)
		}
	}
	return out, nil
}

func (r *memJobRepo) UpdateProgress(id string, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && job.Status == domain.JobStatusRunning {
		job.Progress = progress
		r.jobs[id] = job
	}
	return nil
}

func (r *memJobRepo) GetJobStats() (*domain.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.JobStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusRequested:
			stats.RequestedCount++
		case domain.JobStatusRunning:
			stats.RunningCount++
		case domain.JobStatusRetrying:
			stats.RetryingCount++
		case domain.JobStatusSucceeded:
			stats.SucceededCount++
		case domain.JobStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *memJobRepo) CleanupFinishedJobs(olderThan time.Duration) (int, error) {
	return 0, nil
}

// fakeExtractor runs fn for every call
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call, req, progress)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeOutput produces a staged file the way the real extractor does
func writeOutput(req port.ExtractRequest, data []byte) (*port.ExtractResult, error) {
	path := filepath.Join(req.StagingDir, req.Source.ContentID+req.Format.Extension())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return &port.ExtractResult{Path: path}, nil
}

type harness struct {
	orch   *Orchestrator
	root   string
	assets *filesystem.Manager
	repo   *memJobRepo
	ext    *fakeExtractor
	alice  vo.Identity
}

func testConfig() *Config {
	return &Config{
		ConcurrentJobs:   2,
		MaxAttempts:      3,
		RunTimeout:       5 * time.Second,
		RetryBackoff:     []time.Duration{time.Millisecond},
		ProgressInterval: time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg *Config, ext *fakeExtractor) *harness {
	t.Helper()
	root := t.TempDir()
	assets, err := filesystem.NewManager(root)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	alice, _ := vo.NewIdentity("alice")
	repo := newMemJobRepo()
	return &harness{
		orch:   New(cfg, ext, assets, repo, event.NewInMemoryDispatcher(false, zap.NewNop()), zap.NewNop()),
		root:   root,
		assets: assets,
		repo:   repo,
		ext:    ext,
		alice:  alice,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) wait(t *testing.T, id string) domain.DownloadJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	return job
}

func (h *harness) assetPath(t *testing.T) string {
	t.Helper()
	name, _ := vo.NewAssetName(testVideoID + ".mp3")
	return h.assets.ResolvePath(h.alice, name)
}

func TestOrchestrator_SuccessPublishesProgress(t *testing.T) {
	gate := make(chan struct{})
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		<-gate
		progress <- 0.5
		return writeOutput(req, mp3Bytes)
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, err := h.orch.Submit(h.alice, testVideoID, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Created || res.Job.Format != domain.FormatMP3 {
		t.Fatalf("Submit() = %+v", res)
	}

	events, cancel, err := h.orch.Subscribe(res.Job.ID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	close(gate)

	var sawProgress bool
	var last domain.JobEvent
	for ev := range events {
		if ev.Status == domain.JobStatusRunning && ev.Progress == 0.5 {
			sawProgress = true
		}
		last = ev
	}
	if !sawProgress {
		t.Error("no progress event observed")
	}
	if last.Status != domain.JobStatusSucceeded {
		t.Errorf("last event status = %s, want succeeded", last.Status)
	}

	job := h.wait(t, res.Job.ID)
	if job.Attempts != 1 || job.AssetPath != h.assetPath(t) {
		t.Errorf("job = attempts %d path %q", job.Attempts, job.AssetPath)
	}

	data, err := os.ReadFile(h.assetPath(t))
	if err != nil || len(data) != len(mp3Bytes) {
		t.Errorf("asset read = %d bytes, %v", len(data), err)
	}

	staging := filepath.Join(h.assets.RootDir(), ".staging", "alice", res.Job.ID)
	if _, err := os.Stat(staging); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging dir left behind")
	}

	stored, _ := h.repo.GetJob(res.Job.ID)
	if stored.Status != domain.JobStatusSucceeded {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestOrchestrator_TransientFailuresExhaustBudget(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return nil, domain.NewRetryableError(errors.New("HTTP Error 503"), 0)
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, err := h.orch.Submit(h.alice, testVideoID, "mp3")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := h.wait(t, res.Job.ID)
	if job.Status != domain.JobStatusFailed || job.Permanent {
		t.Errorf("status = %s permanent = %v", job.Status, job.Permanent)
	}
	if job.Attempts != 3 || ext.Calls() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", job.Attempts, ext.Calls())
	}
	if exists, _, _ := h.assets.Stat(h.assetPath(t)); exists {
		t.Error("asset visible after failed job")
	}
}

func TestOrchestrator_PermanentFailureIsNotRetried(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return nil, domain.NewPermanentError(errors.New("Video unavailable"), "video unavailable")
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, _ := h.orch.Submit(h.alice, testVideoID, "mp3")
	job := h.wait(t, res.Job.ID)

	if job.Status != domain.JobStatusFailed || !job.Permanent {
		t.Errorf("status = %s permanent = %v", job.Status, job.Permanent)
	}
	if ext.Calls() != 1 {
		t.Errorf("calls = %d, want 1", ext.Calls())
	}
}

func TestOrchestrator_RetryThenSucceed(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		if call == 1 {
			return nil, domain.NewRetryableError(errors.New("connection reset"), 0)
		}
		return writeOutput(req, mp3Bytes)
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, _ := h.orch.Submit(h.alice, "https://youtu.be/"+testVideoID, "mp3")
	job := h.wait(t, res.Job.ID)

	if job.Status != domain.JobStatusSucceeded || job.Attempts != 2 {
		t.Errorf("status = %s attempts = %d", job.Status, job.Attempts)
	}
	if job.LastError != "" {
		t.Errorf("LastError = %q, want cleared", job.LastError)
	}
}

func TestOrchestrator_DedupesActiveJobAndHidesPartialAsset(t *testing.T) {
	gate := make(chan struct{})
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		<-gate
		return writeOutput(req, mp3Bytes)
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	first, _ := h.orch.Submit(h.alice, testVideoID, "mp3")
	second, err := h.orch.Submit(h.alice, "https://www.youtube.com/watch?v="+testVideoID, "mp3")
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if second.Created || second.Job.ID != first.Job.ID {
		t.Errorf("second Submit() = created %v id %s, want existing %s", second.Created, second.Job.ID, first.Job.ID)
	}

	names, _ := h.assets.List(h.alice)
	if len(names) != 0 {
		t.Errorf("List() during extraction = %v, want empty", names)
	}

	close(gate)
	h.wait(t, first.Job.ID)

	names, _ = h.assets.List(h.alice)
	if len(names) != 1 || names[0] != testVideoID+".mp3" {
		t.Errorf("List() after success = %v", names)
	}
	if ext.Calls() != 1 {
		t.Errorf("calls = %d, want 1", ext.Calls())
	}
}

func TestOrchestrator_ExistingAssetSucceedsImmediately(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		t.Error("extractor must not run")
		return nil, errors.New("unexpected")
	}}
	h := newHarness(t, testConfig(), ext)

	path := h.assetPath(t)
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, mp3Bytes, 0644)

	res, err := h.orch.Submit(h.alice, testVideoID, "mp3")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Job.Status != domain.JobStatusSucceeded || res.Job.AssetPath != path {
		t.Errorf("job = %s %q", res.Job.Status, res.Job.AssetPath)
	}
}

func TestOrchestrator_SubmitRejectsBadInput(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeExtractor{})

	tests := []struct {
		name   string
		source string
		format string
	}{
		{"empty source", "", "mp3"},
		{"foreign url", "https://example.com/watch?v=" + testVideoID, "mp3"},
		{"unknown format", testVideoID, "exe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.orch.Submit(h.alice, tt.source, tt.format); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Submit() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestOrchestrator_RunTimeoutIsTransient(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		<-ctx.Done()
		return nil, domain.NewRetryableError(ctx.Err(), 0)
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.RunTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, ext)
	h.start(t)

	res, _ := h.orch.Submit(h.alice, testVideoID, "mp3")
	job := h.wait(t, res.Job.ID)

	if job.Status != domain.JobStatusFailed || job.Permanent {
		t.Errorf("status = %s permanent = %v", job.Status, job.Permanent)
	}
	if !strings.Contains(job.LastError, "timed out") {
		t.Errorf("LastError = %q, want timeout", job.LastError)
	}
}

func TestOrchestrator_FailureMessageHidesStoragePaths(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return &port.ExtractResult{Path: filepath.Join(req.StagingDir, "gone.mp3")}, nil
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, err := h.orch.Submit(h.alice, testVideoID, "mp3")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := h.wait(t, res.Job.ID)

	if job.Status != domain.JobStatusFailed || job.Attempts != 3 {
		t.Fatalf("status = %s attempts = %d", job.Status, job.Attempts)
	}
	if job.LastError == "" {
		t.Error("LastError is empty")
	}

	stored, err := h.repo.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	for _, msg := range []string{job.LastError, stored.LastError, job.Event().Error} {
		if strings.Contains(msg, h.root) || strings.Contains(msg, "gone.mp3") {
			t.Errorf("client-visible error %q exposes storage path", msg)
		}
	}
}

func TestOrchestrator_NonMediaOutputIsPermanent(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return writeOutput(req, []byte("<html><body>blocked</body></html>"))
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, _ := h.orch.Submit(h.alice, testVideoID, "mp3")
	job := h.wait(t, res.Job.ID)

	if job.Status != domain.JobStatusFailed || !job.Permanent || ext.Calls() != 1 {
		t.Errorf("status = %s permanent = %v calls = %d", job.Status, job.Permanent, ext.Calls())
	}
	if exists, _, _ := h.assets.Stat(h.assetPath(t)); exists {
		t.Error("non-media output committed")
	}
}

func TestOrchestrator_RecoversUnfinishedJobs(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return writeOutput(req, mp3Bytes)
	}}
	h := newHarness(t, testConfig(), ext)

	src, _ := domain.ParseSourceReference(testVideoID)
	orphan := domain.NewDownloadJob("orphan", "alice", src, domain.FormatMP3, 3)
	orphan.Start()
	h.repo.SaveJob(orphan)

	h.start(t)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := h.repo.GetJob("orphan")
		if job.Status == domain.JobStatusSucceeded {
			if job.Attempts != 1 {
				t.Errorf("Attempts = %d, want 1", job.Attempts)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("recovered job never succeeded")
}

func TestOrchestrator_ListAndStats(t *testing.T) {
	ext := &fakeExtractor{fn: func(ctx context.Context, call int, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
		return writeOutput(req, mp3Bytes)
	}}
	h := newHarness(t, testConfig(), ext)
	h.start(t)

	res, _ := h.orch.Submit(h.alice, testVideoID, "mp3")
	h.wait(t, res.Job.ID)

	jobs, err := h.orch.List(h.alice, 10)
	if err != nil || len(jobs) != 1 || jobs[0].ID != res.Job.ID {
		t.Errorf("List() = %v, %v", jobs, err)
	}

	stats, err := h.orch.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["jobs_succeeded"] != 1 {
		t.Errorf("jobs_succeeded = %v, want 1", stats["jobs_succeeded"])
	}
}

func TestOrchestrator_GetUnknownJob(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeExtractor{})

	if _, err := h.orch.Get("missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
	if _, _, err := h.orch.Subscribe("missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Subscribe() error = %v, want ErrJobNotFound", err)
	}
}
