package service

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidChunkPolicy is returned when tiers are not monotonic
var ErrInvalidChunkPolicy = errors.New("invalid chunk policy")

// Size units
const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
)

// ChunkTier assigns read sizes to files smaller than UpTo bytes.
// UpTo <= 0 marks the open-ended last tier.
type ChunkTier struct {
	UpTo         int64
	BufferSize   int
	DefaultChunk int64
	MaxChunk     int64
}

// ChunkSizes is the outcome of a policy lookup
type ChunkSizes struct {
	BufferSize   int
	DefaultChunk int64
	MaxChunk     int64
}

// DefaultChunkTiers is the canonical tiering: small <10MiB, medium <100MiB, large otherwise
func DefaultChunkTiers() []ChunkTier {
	return []ChunkTier{
		{UpTo: 10 * MiB, BufferSize: int(64 * KiB), DefaultChunk: 2 * MiB, MaxChunk: 4 * MiB},
		{UpTo: 100 * MiB, BufferSize: int(256 * KiB), DefaultChunk: 4 * MiB, MaxChunk: 8 * MiB},
		{UpTo: 0, BufferSize: int(MiB), DefaultChunk: 8 * MiB, MaxChunk: 16 * MiB},
	}
}

// ChunkPolicy is a domain service that picks buffer and chunk sizes by file length
type ChunkPolicy struct {
	tiers []ChunkTier
}

// NewChunkPolicy validates and sorts tiers.
// Larger tiers must never get a smaller buffer or chunk than smaller tiers.
func NewChunkPolicy(tiers []ChunkTier) (*ChunkPolicy, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one tier is required", ErrInvalidChunkPolicy)
	}

	sorted := make([]ChunkTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tierBound(sorted[i]) < tierBound(sorted[j])
	})

	for i, t := range sorted {
		if t.BufferSize <= 0 || t.DefaultChunk <= 0 || t.MaxChunk <= 0 {
			return nil, fmt.Errorf("%w: tier %d has a non-positive size", ErrInvalidChunkPolicy, i)
		}
		if t.MaxChunk < t.DefaultChunk {
			return nil, fmt.Errorf("%w: tier %d max chunk is below default chunk", ErrInvalidChunkPolicy, i)
		}
		if t.UpTo <= 0 && i != len(sorted)-1 {
			return nil, fmt.Errorf("%w: only the last tier may be open-ended", ErrInvalidChunkPolicy)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.UpTo > 0 && t.UpTo == prev.UpTo {
			return nil, fmt.Errorf("%w: duplicate tier bound %d", ErrInvalidChunkPolicy, t.UpTo)
		}
		if t.BufferSize < prev.BufferSize || t.DefaultChunk < prev.DefaultChunk || t.MaxChunk < prev.MaxChunk {
			return nil, fmt.Errorf("%w: tier %d is smaller than tier %d", ErrInvalidChunkPolicy, i, i-1)
		}
	}

	return &ChunkPolicy{tiers: sorted}, nil
}

// MustDefaultChunkPolicy returns the policy built from DefaultChunkTiers
func MustDefaultChunkPolicy() *ChunkPolicy {
	p, err := NewChunkPolicy(DefaultChunkTiers())
	if err != nil {
		panic(err)
	}
	return p
}

// SizesFor returns the sizes for a file of the given length
func (p *ChunkPolicy) SizesFor(length int64) ChunkSizes {
	for _, t := range p.tiers {
		if t.UpTo <= 0 || length < t.UpTo {
			return t.sizes()
		}
	}
	// Every tier is bounded; files past the last bound use it anyway.
	return p.tiers[len(p.tiers)-1].sizes()
}

// Tiers returns a copy of the sorted tiers
func (p *ChunkPolicy) Tiers() []ChunkTier {
	out := make([]ChunkTier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

func (t ChunkTier) sizes() ChunkSizes {
	return ChunkSizes{BufferSize: t.BufferSize, DefaultChunk: t.DefaultChunk, MaxChunk: t.MaxChunk}
}

func tierBound(t ChunkTier) int64 {
	if t.UpTo <= 0 {
		return int64(^uint64(0) >> 1)
	}
	return t.UpTo
}
