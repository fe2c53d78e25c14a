package filesystem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/port"
)

// Directory layout under the root
const (
	audioDirName   = "audio"
	stagingDirName = ".staging"
)

const defaultBufferSize = 1024 * 1024 // 1MB

// Manager handles local asset storage
type Manager struct {
	rootDir    string
	bufferSize int

	mu      sync.Mutex
	writers map[string]struct{}
}

// Ensure Manager implements port.AssetStore
var _ port.AssetStore = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, defaultBufferSize)
}

// NewManagerWithBufferSize creates a new filesystem manager with custom write buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("%w: root dir is empty", domain.ErrInvalidInput)
	}
	// Ensure root directory exists
	if err := os.MkdirAll(filepath.Join(rootDir, audioDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset root dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Manager{
		rootDir:    rootDir,
		bufferSize: bufferSize,
		writers:    make(map[string]struct{}),
	}, nil
}

// RootDir returns the storage root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// ResolvePath returns the on-disk path of an asset
func (m *Manager) ResolvePath(identity vo.Identity, name vo.AssetName) string {
	return filepath.Join(m.identityDir(identity), name.String())
}

// EnsureDirectory creates the identity directory if missing
func (m *Manager) EnsureDirectory(identity vo.Identity) error {
	if err := os.MkdirAll(m.identityDir(identity), 0755); err != nil {
		return fmt.Errorf("%w: failed to create identity dir: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Stat reports whether a regular file exists at path and its length
func (m *Manager) Stat(path string) (bool, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: stat %s: %v", domain.ErrUnavailable, filepath.Base(path), err)
	}
	if !info.Mode().IsRegular() {
		return false, 0, nil
	}
	return true, info.Size(), nil
}

// List returns the visible asset names of an identity
func (m *Manager) List(identity vo.Identity) ([]string, error) {
	entries, err := os.ReadDir(m.identityDir(identity))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: failed to list assets: %v", domain.ErrUnavailable, err)
	}

	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return e.Type().IsRegular() && vo.IsVisibleAssetName(e.Name())
	})
	names := lo.Map(files, func(e os.DirEntry, _ int) string {
		return e.Name()
	})
	sort.Strings(names)
	return names, nil
}

// OpenForRead opens path positioned at offset
func (m *Manager) OpenForRead(path string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: failed to open asset: %v", domain.ErrUnavailable, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: failed to seek asset: %v", domain.ErrUnavailable, err)
		}
	}
	return f, nil
}

// CreateForWrite starts a new asset at path.
// Bytes go to a sibling temp file that is renamed over path on Commit.
func (m *Manager) CreateForWrite(path string) (port.AssetWriter, error) {
	if !m.acquire(path) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyInUse, filepath.Base(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		m.release(path)
		return nil, fmt.Errorf("%w: failed to create parent dir: %v", domain.ErrUnavailable, err)
	}

	tempPath := path + vo.TempSuffix
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		m.release(path)
		return nil, fmt.Errorf("%w: failed to create temp file: %v", domain.ErrUnavailable, err)
	}

	return &assetWriter{
		manager:  m,
		file:     f,
		buf:      bufio.NewWriterSize(f, m.bufferSize),
		path:     path,
		tempPath: tempPath,
	}, nil
}

// StagingDir creates and returns a private scratch directory for a job
func (m *Manager) StagingDir(identity vo.Identity, jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return "", fmt.Errorf("%w: invalid job id", domain.ErrInvalidInput)
	}
	dir := filepath.Join(m.rootDir, stagingDirName, identity.String(), jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create staging dir: %v", domain.ErrUnavailable, err)
	}
	return dir, nil
}

// RemoveStaging deletes a scratch directory created by StagingDir
func (m *Manager) RemoveStaging(dir string) error {
	stagingRoot := filepath.Join(m.rootDir, stagingDirName) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(dir)+string(filepath.Separator), stagingRoot) {
		return fmt.Errorf("%w: %s is not a staging dir", domain.ErrForbidden, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove staging dir: %w", err)
	}
	return nil
}

// CleanOldTempFiles removes abandoned temp files and staging directories older than olderThan
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.WalkDir(filepath.Join(m.rootDir, audioDirName), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, vo.TempSuffix) {
			return nil
		}
		if m.isWriting(strings.TrimSuffix(path, vo.TempSuffix)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	staged, err := m.cleanStaging(threshold)
	return count + staged, err
}

// cleanStaging removes job scratch directories last modified before threshold
func (m *Manager) cleanStaging(threshold time.Time) (int, error) {
	identities, err := os.ReadDir(filepath.Join(m.rootDir, stagingDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, idDir := range identities {
		if !idDir.IsDir() {
			continue
		}
		base := filepath.Join(m.rootDir, stagingDirName, idDir.Name())
		jobs, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, job := range jobs {
			info, err := job.Info()
			if err != nil || !info.ModTime().Before(threshold) {
				continue
			}
			if os.RemoveAll(filepath.Join(base, job.Name())) == nil {
				count++
			}
		}
	}
	return count, nil
}

// CleanEmptyDirs removes empty identity directories under root
func (m *Manager) CleanEmptyDirs() error {
	entries, err := os.ReadDir(filepath.Join(m.rootDir, audioDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			os.Remove(filepath.Join(m.rootDir, audioDirName, e.Name())) // Will only succeed if empty
		}
	}
	return nil
}

func (m *Manager) identityDir(identity vo.Identity) string {
	return filepath.Join(m.rootDir, audioDirName, identity.String())
}

func (m *Manager) acquire(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.writers[path]; held {
		return false
	}
	m.writers[path] = struct{}{}
	return true
}

func (m *Manager) release(path string) {
	m.mu.Lock()
	delete(m.writers, path)
	m.mu.Unlock()
}

func (m *Manager) isWriting(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.writers[path]
	return held
}

// assetWriter buffers writes into the temp file and holds the path lock until done
type assetWriter struct {
	manager  *Manager
	file     *os.File
	buf      *bufio.Writer
	path     string
	tempPath string
	written  int64
	done     bool
}

func (w *assetWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *assetWriter) Path() string {
	return w.path
}

func (w *assetWriter) Commit() (int64, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	w.done = true
	defer w.manager.release(w.path)

	if err := w.buf.Flush(); err != nil {
		w.discard()
		return 0, fmt.Errorf("failed to flush asset: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return 0, fmt.Errorf("failed to sync asset: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tempPath)
		return 0, fmt.Errorf("failed to close asset: %w", err)
	}

	// Rename to final path
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return w.written, nil
}

func (w *assetWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.manager.release(w.path)
	return w.discard()
}

func (w *assetWriter) discard() error {
	w.file.Close()
	if err := os.Remove(w.tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}
