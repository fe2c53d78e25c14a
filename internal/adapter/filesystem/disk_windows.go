//go:build windows
// +build windows

package filesystem

import (
	"errors"

	"github.com/vertextoedge/media-vault/internal/port"
)

// GetDiskUsage is not implemented on windows; the disk guard treats the error as unknown usage
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	return nil, errors.New("disk usage is not supported on windows")
}
