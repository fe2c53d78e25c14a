package port

import (
	"io"
	"time"

	"github.com/vertextoedge/media-vault/internal/domain/vo"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// AssetWriter receives the bytes of a new asset.
// Nothing is visible under the final path until Commit succeeds.
type AssetWriter interface {
	io.Writer

	// Path returns the final path of the asset
	Path() string

	// Commit flushes, closes and atomically moves the asset into place
	// Returns the committed size
	Commit() (int64, error)

	// Abort discards everything written so far
	Abort() error
}

// AssetStore defines the interface for asset storage operations
type AssetStore interface {
	// RootDir returns the storage root directory
	RootDir() string

	// ResolvePath returns the on-disk path of an asset. Pure, no I/O.
	ResolvePath(identity vo.Identity, name vo.AssetName) string

	// EnsureDirectory creates the identity directory if missing
	EnsureDirectory(identity vo.Identity) error

	// Stat reports whether a regular file exists at path and its length
	Stat(path string) (bool, int64, error)

	// List returns the visible asset names of an identity, sorted.
	// An identity without a directory yields an empty list.
	List(identity vo.Identity) ([]string, error)

	// OpenForRead opens path positioned at offset
	OpenForRead(path string, offset int64) (io.ReadCloser, error)

	// CreateForWrite starts a new asset at path
	// Returns domain.ErrAlreadyInUse while another writer holds the path
	CreateForWrite(path string) (AssetWriter, error)

	// StagingDir creates and returns a private scratch directory for a job
	StagingDir(identity vo.Identity, jobID string) (string, error)

	// RemoveStaging deletes a scratch directory created by StagingDir
	RemoveStaging(dir string) error

	// GetDiskUsage returns disk usage statistics
	GetDiskUsage() (*DiskUsage, error)

	// CleanOldTempFiles removes temp files and staging directories older than the specified duration
	// Returns the number of entries deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}
