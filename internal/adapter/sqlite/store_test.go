package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vertextoedge/media-vault/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id, identity string) *domain.DownloadJob {
	src := domain.SourceReference{ContentID: "dQw4w9WgXcQ", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	return domain.NewDownloadJob(id, identity, src, domain.FormatMP3, 3)
}

func TestStore_SaveAndGetJob(t *testing.T) {
	s := openTestStore(t)

	job := newJob("job1", "alice")
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	got, err := s.GetJob("job1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Identity != "alice" || got.LogicalName != "dQw4w9WgXcQ.mp3" || got.Format != domain.FormatMP3 {
		t.Errorf("GetJob() = %+v", got)
	}
	if got.Status != domain.JobStatusRequested || got.FinishedAt != nil {
		t.Errorf("Status = %s, FinishedAt = %v", got.Status, got.FinishedAt)
	}
	if got.CreatedAt.UnixMilli() != job.CreatedAt.UnixMilli() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}
}

func TestStore_GetJobNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJob("missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestStore_SaveJobUpdatesState(t *testing.T) {
	s := openTestStore(t)

	job := newJob("job1", "alice")
	s.SaveJob(job)

	job.Start()
	job.Fail(domain.NewPermanentError(errors.New("video unavailable"), "extractor rejected source"))
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	got, _ := s.GetJob("job1")
	if got.Status != domain.JobStatusFailed || !got.Permanent || got.Attempts != 1 {
		t.Errorf("got status=%s permanent=%v attempts=%d", got.Status, got.Permanent, got.Attempts)
	}
	if got.LastError == "" || got.FinishedAt == nil {
		t.Errorf("LastError = %q, FinishedAt = %v", got.LastError, got.FinishedAt)
	}
}

func TestStore_ListJobsByIdentity(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		job := newJob(id, "alice")
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		s.SaveJob(job)
	}
	s.SaveJob(newJob("other", "bob"))

	jobs, err := s.ListJobsByIdentity("alice", 2)
	if err != nil {
		t.Fatalf("ListJobsByIdentity() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		t.Errorf("ListJobsByIdentity() = %v, want [c b]", ids)
	}
}

func TestStore_ListActiveJobs(t *testing.T) {
	s := openTestStore(t)

	requested := newJob("requested", "alice")
	s.SaveJob(requested)

	running := newJob("running", "alice")
	running.Start()
	s.SaveJob(running)

	done := newJob("done", "alice")
	done.Start()
	done.Succeed("/data/audio/alice/dQw4w9WgXcQ.mp3")
	s.SaveJob(done)

	jobs, err := s.ListActiveJobs()
	if err != nil {
		t.Fatalf("ListActiveJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("ListActiveJobs() returned %d jobs, want 2", len(jobs))
	}
}

func TestStore_UpdateProgressOnlyWhileRunning(t *testing.T) {
	s := openTestStore(t)

	job := newJob("job1", "alice")
	s.SaveJob(job)
	s.UpdateProgress("job1", 0.5)

	got, _ := s.GetJob("job1")
	if got.Progress != 0 {
		t.Errorf("Progress of requested job = %v, want 0", got.Progress)
	}

	job.Start()
	s.SaveJob(job)
	if err := s.UpdateProgress("job1", 0.5); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	got, _ = s.GetJob("job1")
	if got.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", got.Progress)
	}
}

func TestStore_GetJobStats(t *testing.T) {
	s := openTestStore(t)

	s.SaveJob(newJob("a", "alice"))
	s.SaveJob(newJob("b", "alice"))
	failed := newJob("c", "alice")
	failed.Start()
	failed.Fail(domain.NewPermanentError(errors.New("x"), "bad"))
	s.SaveJob(failed)

	stats, err := s.GetJobStats()
	if err != nil {
		t.Fatalf("GetJobStats() error = %v", err)
	}
	if stats.RequestedCount != 2 || stats.FailedCount != 1 || stats.SucceededCount != 0 {
		t.Errorf("GetJobStats() = %+v", stats)
	}
}

func TestStore_CleanupFinishedJobs(t *testing.T) {
	s := openTestStore(t)

	old := newJob("old", "alice")
	old.Start()
	old.Succeed("/x")
	past := time.Now().Add(-48 * time.Hour)
	old.FinishedAt = &past
	s.SaveJob(old)

	recent := newJob("recent", "alice")
	recent.Start()
	recent.Succeed("/y")
	s.SaveJob(recent)

	active := newJob("active", "alice")
	s.SaveJob(active)

	count, err := s.CleanupFinishedJobs(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupFinishedJobs() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CleanupFinishedJobs() = %d, want 1", count)
	}
	if _, err := s.GetJob("old"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Error("old job still present")
	}
	if _, err := s.GetJob("active"); err != nil {
		t.Errorf("active job removed: %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
