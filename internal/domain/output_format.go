package domain

import (
	"fmt"
	"strings"
)

// OutputFormat is the normalized audio container an extraction produces
type OutputFormat string

const (
	FormatMP3  OutputFormat = "mp3"
	FormatM4A  OutputFormat = "m4a"
	FormatOpus OutputFormat = "opus"
	FormatAAC  OutputFormat = "aac"
	FormatFLAC OutputFormat = "flac"
	FormatWAV  OutputFormat = "wav"
)

// DefaultOutputFormat is used when a request does not name one
const DefaultOutputFormat = FormatMP3

var supportedFormats = map[OutputFormat]struct{}{
	FormatMP3:  {},
	FormatM4A:  {},
	FormatOpus: {},
	FormatAAC:  {},
	FormatFLAC: {},
	FormatWAV:  {},
}

// ParseOutputFormat normalizes a requested format; empty selects the default
func ParseOutputFormat(s string) (OutputFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultOutputFormat, nil
	}
	f := OutputFormat(s)
	if _, ok := supportedFormats[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Extension returns the file extension including the dot
func (f OutputFormat) Extension() string {
	return "." + string(f)
}

// String returns the format name
func (f OutputFormat) String() string {
	return string(f)
}
