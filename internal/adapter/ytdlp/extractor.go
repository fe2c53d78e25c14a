package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/port"
)

// Config holds extractor settings
type Config struct {
	// Binary is the yt-dlp executable; empty resolves it from PATH
	Binary           string
	AudioQuality     string
	ProgressInterval time.Duration
	RetryAfter       time.Duration
}

// Extractor runs yt-dlp to pull audio into a staging directory
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// Ensure Extractor implements port.Extractor
var _ port.Extractor = (*Extractor)(nil)

// New creates a new Extractor
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = "0"
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Stderr fragments that mean the source will never succeed
var permanentMarkers = []string{
	"unsupported url",
	"is not a valid url",
	"video unavailable",
	"this video is not available",
	"private video",
	"has been removed",
	"account associated with this video has been terminated",
	"copyright",
	"sign in to confirm your age",
	"members-only",
	"no video formats found",
	"requested format is not available",
	"premieres in",
}

// Extract runs one extraction attempt
func (e *Extractor) Extract(ctx context.Context, req port.ExtractRequest, progress chan<- float64) (*port.ExtractResult, error) {
	if req.StagingDir == "" {
		return nil, domain.NewPermanentError(domain.ErrInvalidInput, "staging dir is required")
	}
	if req.Source.URL == "" || req.Source.ContentID == "" {
		return nil, domain.NewPermanentError(domain.ErrInvalidInput, "source reference is empty")
	}

	cmd := e.command(req)
	cmd.ProgressFunc(e.cfg.ProgressInterval, func(update ytdlp.ProgressUpdate) {
		fraction, ok := progressFraction(update)
		if !ok {
			return
		}
		select {
		case progress <- fraction:
		default:
		}
	})

	start := time.Now()
	result, err := cmd.Run(ctx, req.Source.URL)
	if err != nil {
		return nil, e.classify(ctx, result, err)
	}

	path, err := findOutput(req.StagingDir, req.Source.ContentID, req.Format)
	if err != nil {
		return nil, domain.NewRetryableError(err, e.cfg.RetryAfter)
	}

	e.logger.Debug("extraction finished",
		zap.String("content_id", req.Source.ContentID),
		zap.String("format", req.Format.String()),
		zap.String("output", path),
		zap.Duration("duration", time.Since(start)),
	)
	return &port.ExtractResult{Path: path}, nil
}

// progressFraction converts an update into a completed fraction.
// TotalBytes already falls back to yt-dlp's estimate; fragmented streams
// that report neither fall back to the fragment counter.
func progressFraction(update ytdlp.ProgressUpdate) (float64, bool) {
	var fraction float64
	switch {
	case update.TotalBytes > 0:
		fraction = float64(update.DownloadedBytes) / float64(update.TotalBytes)
	case update.FragmentCount > 0:
		fraction = float64(update.FragmentIndex) / float64(update.FragmentCount)
	default:
		return 0, false
	}
	if fraction > 1 {
		fraction = 1
	}
	return fraction, true
}

// command builds the yt-dlp invocation. Options depend only on the request.
func (e *Extractor) command(req port.ExtractRequest) *ytdlp.Command {
	cmd := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(req.Format.String()).
		AudioQuality(e.cfg.AudioQuality).
		NoPlaylist().
		ForceOverwrites().
		Output(filepath.Join(req.StagingDir, outputTemplate(req.Source.ContentID)))
	if e.cfg.Binary != "" {
		cmd.SetExecutable(e.cfg.Binary)
	}
	return cmd
}

// classify sorts a failed run into permanent or retryable
func (e *Extractor) classify(ctx context.Context, result *ytdlp.Result, err error) error {
	var stderr string
	exitCode := -1
	if result != nil {
		stderr = result.Stderr
		exitCode = result.ExitCode
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.NewRetryableError(fmt.Errorf("%w: extractor interrupted: %v", domain.ErrUnavailable, ctxErr), e.cfg.RetryAfter)
	}

	if reason, ok := permanentReason(stderr + "\n" + err.Error()); ok {
		e.logger.Warn("extractor rejected source",
			zap.Int("exit_code", exitCode),
			zap.String("reason", reason),
		)
		return domain.NewPermanentError(fmt.Errorf("%w: %s", domain.ErrInvalidInput, lastLine(stderr, err)), reason)
	}

	e.logger.Warn("extractor failed",
		zap.Int("exit_code", exitCode),
		zap.Error(err),
	)
	return domain.NewRetryableError(fmt.Errorf("extractor exited: %s", lastLine(stderr, err)), e.cfg.RetryAfter)
}

func permanentReason(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

// lastLine returns the final non-empty stderr line, or err when stderr is empty
func lastLine(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return err.Error()
}

func outputTemplate(contentID string) string {
	return contentID + ".%(ext)s"
}

// findOutput locates the finished file in the staging directory.
// The expected <id><ext> wins; otherwise the only finished file with the id stem is used.
func findOutput(dir, contentID string, format domain.OutputFormat) (string, error) {
	expected := filepath.Join(dir, contentID+format.Extension())
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read staging dir: %w", err)
	}

	var candidates []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, contentID+".") || isPartial(name) {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, name))
	}

	switch len(candidates) {
	case 0:
		return "", errors.New("extractor produced no output file")
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("extractor produced %d candidate files", len(candidates))
	}
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".ytdl") ||
		strings.HasSuffix(name, ".temp") ||
		strings.Contains(name, ".part-Frag")
}
