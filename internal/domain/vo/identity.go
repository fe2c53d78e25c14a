package vo

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/vertextoedge/media-vault/internal/domain"
)

// Identity is the authenticated principal, safe to use as a directory component.
type Identity struct {
	value string
}

const maxIdentityLength = 128

var (
	ErrEmptyIdentity   = errors.New("identity cannot be empty")
	ErrInvalidIdentity = errors.New("identity contains forbidden characters")
)

// NewIdentity validates an identity string.
// Separators, dot segments and control characters are rejected rather than rewritten.
func NewIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrForbidden, ErrEmptyIdentity)
	}
	if !isSafeComponent(s, maxIdentityLength) {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrForbidden, ErrInvalidIdentity)
	}
	return Identity{value: s}, nil
}

// String returns the identity
func (id Identity) String() string {
	return id.value
}

// IsEmpty returns true for the zero value
func (id Identity) IsEmpty() bool {
	return id.value == ""
}

// isSafeComponent reports whether s can be joined under a directory without escaping it
func isSafeComponent(s string, maxLen int) bool {
	if len(s) > maxLen || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	if strings.Contains(s, "..") || strings.ContainsAny(s, `/\:`) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}
