package service

// StoragePolicy decides whether the asset volume can take another download
type StoragePolicy struct {
	maxDiskUsagePct float64
}

// SpaceCheckResult contains the result of a space check
type SpaceCheckResult struct {
	HasSpace         bool
	CurrentDiskUsage float64
	MaxDiskUsage     float64
}

// NewStoragePolicy creates a StoragePolicy. A limit <= 0 or >= 100 disables the guard.
func NewStoragePolicy(maxDiskUsagePct float64) *StoragePolicy {
	return &StoragePolicy{maxDiskUsagePct: maxDiskUsagePct}
}

// CheckSpace reports whether current usage leaves room for a new asset
func (sp *StoragePolicy) CheckSpace(currentDiskUsagePct float64) SpaceCheckResult {
	result := SpaceCheckResult{
		CurrentDiskUsage: currentDiskUsagePct,
		MaxDiskUsage:     sp.maxDiskUsagePct,
	}
	if !sp.Enabled() {
		result.HasSpace = true
		return result
	}
	result.HasSpace = currentDiskUsagePct < sp.maxDiskUsagePct
	return result
}

// Enabled returns true if the guard applies a limit
func (sp *StoragePolicy) Enabled() bool {
	return sp.maxDiskUsagePct > 0 && sp.maxDiskUsagePct < 100
}

// GetMaxDiskUsagePct returns the maximum disk usage percentage
func (sp *StoragePolicy) GetMaxDiskUsagePct() float64 {
	return sp.maxDiskUsagePct
}
