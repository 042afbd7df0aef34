package media

import (
	"encoding/json"
	"strings"
)

// Container is the merge output format requested from the extractor.
type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMKV Container = "mkv"
)

func (c Container) Valid() bool {
	return c == ContainerMP4 || c == ContainerMKV
}

// Format describes one downloadable stream as reported by the extractor.
type Format struct {
	ID         string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	Filesize   int64  `json:"filesize,omitempty"`
}

// VideoInfo is the normalized metadata of one remote video.
type VideoInfo struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Uploader     string   `json:"uploader"`
	PublishDate  string   `json:"publish_date"` // YYYY-MM-DD
	Year         string   `json:"year"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Tags         []string `json:"tags"`
	URL          string   `json:"url"`
	Formats      []Format `json:"formats,omitempty"`

	// Raw is the untouched extractor payload.
	Raw json.RawMessage `json:"-"`
}

// Stem is the shared base name of every artifact written for the video.
func (v *VideoInfo) Stem() string {
	if usableStem(v.Title) {
		return v.Title
	}
	if id := SanitizeTitle(v.ID); usableStem(id) {
		return id
	}
	return "untitled"
}

// usableStem rejects names that resolve to the current or parent directory.
func usableStem(s string) bool {
	return strings.Trim(s, ".") != ""
}
