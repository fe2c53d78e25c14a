package domain

// MediaAsset is a completed file on durable storage.
// Assets are immutable once visible under their final name.
type MediaAsset struct {
	Identity    string
	Name        string
	Path        string
	Size        int64
	ContentType string
}
