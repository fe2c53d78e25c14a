package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const watchURLTemplate = "https://www.youtube.com/watch?v=%s"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// SourceReference identifies the remote media an extraction job pulls from
type SourceReference struct {
	// ContentID is the video identifier, used as the logical name stem
	ContentID string
	// URL is the canonical watch URL handed to the extractor
	URL string
}

// ParseSourceReference accepts a bare video identifier or a watch/short/youtu.be URL
func ParseSourceReference(ref string) (SourceReference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return SourceReference{}, fmt.Errorf("%w: empty source reference", ErrInvalidInput)
	}

	if videoIDPattern.MatchString(ref) {
		return newSourceReference(ref), nil
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return SourceReference{}, fmt.Errorf("%w: unrecognised source reference", ErrInvalidInput)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
		} else if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			id = strings.Trim(rest, "/")
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	}

	if !videoIDPattern.MatchString(id) {
		return SourceReference{}, fmt.Errorf("%w: no video identifier in source reference", ErrInvalidInput)
	}
	return newSourceReference(id), nil
}

func newSourceReference(id string) SourceReference {
	return SourceReference{ContentID: id, URL: fmt.Sprintf(watchURLTemplate, id)}
}
