package port

import (
	"context"

	"github.com/vertextoedge/media-vault/internal/domain"
)

// ExtractRequest describes one extraction attempt
type ExtractRequest struct {
	Source     domain.SourceReference
	Format     domain.OutputFormat
	StagingDir string
}

// ExtractResult is the output of a successful attempt
type ExtractResult struct {
	// Path of the produced file inside the staging directory
	Path string
}

// Extractor runs the external media extraction process.
//
// Progress fractions in [0, 1] are sent on progress without blocking and never
// after Extract returns. The channel belongs to the caller. Failures that no retry can fix
// are wrapped in domain.PermanentError, everything else in domain.RetryableError.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest, progress chan<- float64) (*ExtractResult, error)
}
