package streamer

import (
	"errors"
	"fmt"
	"io"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/service"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/port"
)

// Stream is an opened asset ready to be copied to a client.
// Body yields exactly Length bytes; the caller must Close it.
type Stream struct {
	Asset      domain.MediaAsset
	Range      vo.ByteRange
	Partial    bool
	Length     int64
	BufferSize int
	Body       io.ReadCloser
}

// Streamer serves assets by byte range
type Streamer struct {
	assets   port.AssetStore
	policy   *service.ChunkPolicy
	resolver *service.ContentResolver
	logger   *zap.Logger
}

// New creates a new Streamer
func New(assets port.AssetStore, policy *service.ChunkPolicy, resolver *service.ContentResolver, logger *zap.Logger) *Streamer {
	if policy == nil {
		policy = service.MustDefaultChunkPolicy()
	}
	if resolver == nil {
		resolver = service.NewContentResolver("")
	}
	return &Streamer{
		assets:   assets,
		policy:   policy,
		resolver: resolver,
		logger:   logger,
	}
}

// Open resolves an asset of identity and opens the window selected by rangeHeader.
// An empty rangeHeader opens the whole file.
func (s *Streamer) Open(identity vo.Identity, rawName, rangeHeader string) (*Stream, error) {
	name, err := vo.NewAssetName(rawName)
	if err != nil {
		return nil, err
	}

	path := s.assets.ResolvePath(identity, name)
	exists, total, err := s.assets.Stat(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}

	asset := domain.MediaAsset{
		Identity:    identity.String(),
		Name:        name.String(),
		Path:        path,
		Size:        total,
		ContentType: s.resolver.Resolve(name.String(), true),
	}
	sizes := s.policy.SizesFor(total)

	r, ok, err := vo.ParseByteRange(rangeHeader, total, sizes.DefaultChunk, sizes.MaxChunk)
	if err != nil {
		if vo.IsRangeUnsatisfiable(err) {
			return nil, domain.NewUnsatisfiableRangeError(total, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	stream := &Stream{
		Asset:      asset,
		BufferSize: sizes.BufferSize,
	}
	offset := int64(0)
	if ok {
		stream.Range = r
		stream.Partial = true
		stream.Length = r.Length()
		offset = r.Start
	} else {
		stream.Length = total
	}

	body, err := s.assets.OpenForRead(path, offset)
	if err != nil {
		// ErrNotFound here means the file was removed between stat and open
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	stream.Body = &boundedBody{Reader: io.LimitReader(body, stream.Length), Closer: body}

	s.logger.Debug("asset opened",
		zap.String("identity", asset.Identity),
		zap.String("name", asset.Name),
		zap.Int64("offset", offset),
		zap.Int64("length", stream.Length),
		zap.Bool("partial", stream.Partial))

	return stream, nil
}

// List returns the completed asset names of identity
func (s *Streamer) List(identity vo.Identity) ([]string, error) {
	return s.assets.List(identity)
}

// ListAssets returns the completed assets of identity with size and type
func (s *Streamer) ListAssets(identity vo.Identity) ([]domain.MediaAsset, error) {
	names, err := s.assets.List(identity)
	if err != nil {
		return nil, err
	}

	assets := lo.FilterMap(names, func(n string, _ int) (domain.MediaAsset, bool) {
		name, err := vo.NewAssetName(n)
		if err != nil {
			return domain.MediaAsset{}, false
		}
		path := s.assets.ResolvePath(identity, name)
		exists, size, err := s.assets.Stat(path)
		if err != nil || !exists {
			return domain.MediaAsset{}, false
		}
		return domain.MediaAsset{
			Identity:    identity.String(),
			Name:        n,
			Path:        path,
			Size:        size,
			ContentType: s.resolver.Resolve(n, true),
		}, true
	})
	return assets, nil
}

// boundedBody stops reading at the window end and closes the underlying file
type boundedBody struct {
	io.Reader
	io.Closer
}
