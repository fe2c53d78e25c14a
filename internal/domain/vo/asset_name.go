package vo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vertextoedge/media-vault/internal/domain"
)

// TempSuffix marks a file that is still being written
const TempSuffix = ".downloading"

const maxAssetNameLength = 255

var (
	ErrEmptyAssetName   = errors.New("asset name cannot be empty")
	ErrInvalidAssetName = errors.New("invalid asset name")
)

// AssetName is the logical name of an asset inside an identity directory
type AssetName struct {
	value string
}

// NewAssetName validates a requested file name.
// Names that could address anything other than a completed file in the
// identity directory are forbidden.
func NewAssetName(s string) (AssetName, error) {
	if s == "" {
		return AssetName{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, ErrEmptyAssetName)
	}
	if !isSafeComponent(s, maxAssetNameLength) || strings.HasSuffix(s, TempSuffix) {
		return AssetName{}, fmt.Errorf("%w: %w", domain.ErrForbidden, ErrInvalidAssetName)
	}
	return AssetName{value: s}, nil
}

// String returns the name
func (n AssetName) String() string {
	return n.value
}

// Extension returns the file extension (including the dot)
func (n AssetName) Extension() string {
	return filepath.Ext(n.value)
}

// IsVisibleAssetName reports whether a directory entry name is a completed asset
func IsVisibleAssetName(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, TempSuffix)
}
