package orchestrator

import (
	"fmt"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/service"
	"github.com/vertextoedge/media-vault/internal/port"
)

// spaceReporter is the part of the asset store the guard needs
type spaceReporter interface {
	GetDiskUsage() (*port.DiskUsage, error)
}

// SpaceGuard refuses new extractions while the asset volume is too full
type SpaceGuard struct {
	fs     spaceReporter
	policy *service.StoragePolicy
}

// NewSpaceGuard creates a new SpaceGuard
func NewSpaceGuard(fs spaceReporter, maxDiskUsagePct float64) *SpaceGuard {
	return &SpaceGuard{
		fs:     fs,
		policy: service.NewStoragePolicy(maxDiskUsagePct),
	}
}

// CheckSpace returns the policy verdict for the current disk usage
func (sg *SpaceGuard) CheckSpace() (service.SpaceCheckResult, error) {
	if !sg.policy.Enabled() {
		return service.SpaceCheckResult{HasSpace: true, MaxDiskUsage: sg.policy.GetMaxDiskUsagePct()}, nil
	}
	usage, err := sg.fs.GetDiskUsage()
	if err != nil {
		return service.SpaceCheckResult{}, err
	}
	return sg.policy.CheckSpace(usage.UsedPct), nil
}

// Admit returns a transient ErrUnavailable when there is no room.
// An unreadable disk usage admits the attempt.
func (sg *SpaceGuard) Admit() (service.SpaceCheckResult, error) {
	result, err := sg.CheckSpace()
	if err != nil {
		return service.SpaceCheckResult{HasSpace: true}, nil
	}
	if !result.HasSpace {
		return result, domain.NewRetryableError(
			fmt.Errorf("%w: disk usage %.1f%% exceeds limit %.1f%%", domain.ErrUnavailable, result.CurrentDiskUsage, result.MaxDiskUsage),
			0,
		)
	}
	return result, nil
}
