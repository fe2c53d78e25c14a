package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
)

// sniffSize is how much of the staged file is read to detect its type
const sniffSize = 3072

// commit verifies the staged output and moves it into the asset store.
// The asset becomes visible only once the writer commits.
func (o *Orchestrator) commit(identity vo.Identity, name vo.AssetName, stagedPath string) (string, int64, error) {
	src, err := os.Open(stagedPath)
	if err != nil {
		return "", 0, domain.NewRetryableError(fmt.Errorf("failed to open staged output: %w", err), 0)
	}
	defer src.Close()

	kind, err := sniff(src)
	if err != nil {
		return "", 0, domain.NewRetryableError(err, 0)
	}
	if !isMedia(kind) {
		return "", 0, domain.NewPermanentError(
			fmt.Errorf("%w: extractor produced %s", domain.ErrInvalidInput, kind.String()),
			"output is not audio or video")
	}

	if err := o.assets.EnsureDirectory(identity); err != nil {
		return "", 0, domain.NewRetryableError(err, 0)
	}

	path := o.assets.ResolvePath(identity, name)
	w, err := o.assets.CreateForWrite(path)
	if err != nil {
		// Includes domain.ErrAlreadyInUse; the holder may finish before the next attempt
		return "", 0, domain.NewRetryableError(err, 0)
	}

	buf := make([]byte, o.config.CopyBufferSize)
	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		w.Abort()
		return "", 0, domain.NewRetryableError(fmt.Errorf("failed to copy staged output: %w", err), 0)
	}

	size, err := w.Commit()
	if err != nil {
		return "", 0, domain.NewRetryableError(err, 0)
	}

	o.logger.Debug("asset committed",
		zap.String("path", path),
		zap.String("detected_type", kind.String()),
		zap.Int64("size", size))
	return path, size, nil
}

// sniff detects the content type from the head of f and rewinds it
func sniff(f *os.File) (*mimetype.MIME, error) {
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read staged output: %w", err)
	}
	if n == 0 {
		return nil, errors.New("staged output is empty")
	}

	kind := mimetype.Detect(head[:n])

	// Cursor needs to be at the beginning for the copy
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind staged output: %w", err)
	}
	return kind, nil
}

// isMedia reports whether the detected type or one of its parents is audio or video
func isMedia(kind *mimetype.MIME) bool {
	for m := kind; m != nil; m = m.Parent() {
		t := m.String()
		if strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/") {
			return true
		}
	}
	return false
}
