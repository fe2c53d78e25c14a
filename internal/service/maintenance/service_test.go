package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/adapter/filesystem"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
)

// mockJobCleaner implements JobCleaner for testing
type mockJobCleaner struct {
	mu            sync.Mutex
	cleanupCount  int
	cleanupErr    error
	cleanupCalled int
	lastMaxAge    time.Duration
}

func (m *mockJobCleaner) CleanupFinishedJobs(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalled++
	m.lastMaxAge = olderThan
	return m.cleanupCount, m.cleanupErr
}

func (m *mockJobCleaner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupCalled
}

// mockAssetCleaner implements AssetCleaner for testing
type mockAssetCleaner struct {
	mu                 sync.Mutex
	cleanTempCount     int
	cleanTempErr       error
	cleanTempCalled    int
	cleanEmptyDirsCall int
}

func (m *mockAssetCleaner) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanTempCalled++
	return m.cleanTempCount, m.cleanTempErr
}

func (m *mockAssetCleaner) CleanEmptyDirs() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanEmptyDirsCall++
	return nil
}

func (m *mockAssetCleaner) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanTempCalled, m.cleanEmptyDirsCall
}

func TestService_New(t *testing.T) {
	logger := zap.NewNop()

	s := New(nil, &mockJobCleaner{}, &mockAssetCleaner{}, logger)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.config.TempCheckInterval != 10*time.Minute {
		t.Errorf("TempCheckInterval = %v, want %v", s.config.TempCheckInterval, 10*time.Minute)
	}

	cfg := &Config{
		TempCheckInterval: 2 * time.Minute,
		FinishedJobMaxAge: 12 * time.Hour,
	}
	s = New(cfg, &mockJobCleaner{}, &mockAssetCleaner{}, logger)
	if s.config.TempCheckInterval != 2*time.Minute {
		t.Errorf("TempCheckInterval = %v, want %v", s.config.TempCheckInterval, 2*time.Minute)
	}
	if s.config.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want default %v", s.config.CleanupInterval, time.Hour)
	}
}

func TestService_StartStop(t *testing.T) {
	jobs := &mockJobCleaner{}
	assets := &mockAssetCleaner{}

	cfg := &Config{
		TempCheckInterval: 10 * time.Millisecond,
		TempFileMaxAge:    time.Hour,
		CleanupInterval:   15 * time.Millisecond,
		FinishedJobMaxAge: time.Hour,
	}
	s := New(cfg, jobs, assets, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(60 * time.Millisecond)

	cancel()
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	if temp, empty := assets.calls(); temp == 0 || empty == 0 {
		t.Errorf("CleanOldTempFiles calls = %d, CleanEmptyDirs calls = %d", temp, empty)
	}
	if jobs.calls() == 0 {
		t.Error("CleanupFinishedJobs was not called")
	}
	if jobs.lastMaxAge != time.Hour {
		t.Errorf("CleanupFinishedJobs olderThan = %v, want %v", jobs.lastMaxAge, time.Hour)
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(nil, &mockJobCleaner{}, &mockAssetCleaner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err == nil {
			t.Error("second Start() error = nil, want already running")
		}
	case <-time.After(time.Second):
		t.Fatal("second Start() blocked")
	}
}

func TestService_RunOnceToleratesErrors(t *testing.T) {
	jobs := &mockJobCleaner{cleanupErr: errors.New("database is locked")}
	assets := &mockAssetCleaner{cleanTempErr: errors.New("permission denied")}

	s := New(nil, jobs, assets, zap.NewNop())
	s.RunOnce()

	temp, empty := assets.calls()
	if temp != 1 || empty != 1 || jobs.calls() != 1 {
		t.Errorf("calls temp=%d empty=%d jobs=%d, want 1 each", temp, empty, jobs.calls())
	}
}

func TestService_RunOnceWithFilesystem(t *testing.T) {
	root := t.TempDir()
	assets, err := filesystem.NewManager(root)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	alice, _ := vo.NewIdentity("alice")
	bob, _ := vo.NewIdentity("bob")
	if err := assets.EnsureDirectory(alice); err != nil {
		t.Fatal(err)
	}
	if err := assets.EnsureDirectory(bob); err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(root, "audio", "alice", "x.mp3"+vo.TempSuffix)
	if err := os.WriteFile(stale, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	s := New(&Config{TempFileMaxAge: time.Hour}, &mockJobCleaner{}, assets, zap.NewNop())
	s.RunOnce()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "audio", "bob")); !os.IsNotExist(err) {
		t.Error("empty identity directory was not removed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TempFileMaxAge != 6*time.Hour {
		t.Errorf("TempFileMaxAge = %v, want %v", cfg.TempFileMaxAge, 6*time.Hour)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, time.Hour)
	}
	if cfg.FinishedJobMaxAge != 7*24*time.Hour {
		t.Errorf("FinishedJobMaxAge = %v, want %v", cfg.FinishedJobMaxAge, 7*24*time.Hour)
	}
}
