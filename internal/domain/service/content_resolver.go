package service

import (
	"mime"
	"path/filepath"
	"strings"
)

// Fallback content types
const (
	OctetStream       = "application/octet-stream"
	DefaultAudioType  = "audio/mp4"
	videoTypePrefix   = "video/"
	audioTypePrefix   = "audio/"
	mimeParamSplitter = ";"
)

// mediaTypes takes precedence over the platform table, which varies between hosts
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".opus": "audio/opus",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".mkv":  "video/x-matroska",
	".mka":  "audio/x-matroska",
}

// ContentResolver maps file names to MIME types
type ContentResolver struct {
	audioFallback string
}

// NewContentResolver creates a resolver. An empty fallback uses DefaultAudioType.
func NewContentResolver(audioFallback string) *ContentResolver {
	if audioFallback == "" {
		audioFallback = DefaultAudioType
	}
	return &ContentResolver{audioFallback: audioFallback}
}

// Resolve returns the content type for name.
// With audioOnly set, unknown types use the audio fallback and video containers
// are reported as their audio equivalent.
func (r *ContentResolver) Resolve(name string, audioOnly bool) string {
	ct := lookup(name)
	if ct == "" {
		if audioOnly {
			return r.audioFallback
		}
		return OctetStream
	}
	if audioOnly && strings.HasPrefix(ct, videoTypePrefix) {
		return audioTypePrefix + strings.TrimPrefix(ct, videoTypePrefix)
	}
	return ct
}

// AudioFallback returns the configured audio fallback type
func (r *ContentResolver) AudioFallback() string {
	return r.audioFallback
}

func lookup(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	ct := mime.TypeByExtension(ext)
	if i := strings.Index(ct, mimeParamSplitter); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
