package vo

import (
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

const rangeUnitPrefix = "bytes="

// Range parse failures. Each condition is distinct so callers can map it.
var (
	ErrRangeMalformed         = errors.New("malformed range header")
	ErrRangeNegativeStart     = errors.New("range start is negative")
	ErrRangeStartAfterEnd     = errors.New("range start is after range end")
	ErrRangeStartBeyondLength = errors.New("range start is beyond resource length")
)

// ByteRange is a validated serving window: 0 <= Start <= End < Total.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length returns the number of bytes in the window
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// UnsatisfiedContentRange formats the Content-Range header value of a 416 response
func UnsatisfiedContentRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// IsRangeUnsatisfiable reports whether a parse failure is about bounds rather than syntax
func IsRangeUnsatisfiable(err error) bool {
	return errors.Is(err, ErrRangeStartAfterEnd) || errors.Is(err, ErrRangeStartBeyondLength)
}

// ParseByteRange parses a single-range "bytes=<start>-<end>" header against total.
//
// An absent header returns ok=false and no error. An omitted end is filled with
// defaultChunk bytes; a present end is capped at maxChunk bytes from start. Both
// are capped at the last byte of the resource. Suffix ranges and multi-range
// headers are malformed. A chunk size <= 0 means no cap.
func ParseByteRange(header string, total, defaultChunk, maxChunk int64) (r ByteRange, ok bool, err error) {
	header = textproto.TrimString(header)
	if header == "" {
		return ByteRange{}, false, nil
	}

	if !strings.HasPrefix(header, rangeUnitPrefix) {
		return ByteRange{}, false, ErrRangeMalformed
	}
	spec := header[len(rangeUnitPrefix):]
	if strings.Contains(spec, ",") {
		return ByteRange{}, false, ErrRangeMalformed
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return ByteRange{}, false, ErrRangeMalformed
	}
	startStr, endStr = textproto.TrimString(startStr), textproto.TrimString(endStr)
	if startStr == "" {
		return ByteRange{}, false, ErrRangeMalformed
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return ByteRange{}, false, err
	}
	if start < 0 {
		return ByteRange{}, false, ErrRangeNegativeStart
	}
	if start >= total {
		return ByteRange{}, false, ErrRangeStartBeyondLength
	}

	last := total - 1
	var end int64
	if endStr == "" {
		end = minOffset(capFrom(start, defaultChunk), last)
	} else {
		requested, err := parseOffset(endStr)
		if err != nil {
			return ByteRange{}, false, err
		}
		end = minOffset(requested, minOffset(capFrom(start, maxChunk), last))
	}

	if start > end {
		return ByteRange{}, false, ErrRangeStartAfterEnd
	}

	return ByteRange{Start: start, End: end, Total: total}, true, nil
}

// parseOffset accepts only decimal digits
func parseOffset(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrRangeMalformed
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrRangeMalformed
	}
	return n, nil
}

// capFrom returns the last offset of a chunk beginning at start
func capFrom(start, chunk int64) int64 {
	if chunk <= 0 {
		return int64(^uint64(0) >> 1)
	}
	return start + chunk - 1
}

func minOffset(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
