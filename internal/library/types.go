package library

import (
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/subtitle"
)

// Entry is one acquired video: a directory holding <stem>.nfo next to the
// video and its sidecars.
type Entry struct {
	Stem      string `json:"stem"`
	Dir       string `json:"dir"`
	VideoFile string `json:"video_file,omitempty"`
	VideoSize int64  `json:"video_size"`
	Size      string `json:"size"`

	Title     string   `json:"title"`
	Premiered string   `json:"premiered,omitempty"`
	Year      string   `json:"year,omitempty"`
	Director  string   `json:"director,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	HasPoster bool             `json:"has_poster"`
	Subtitles []subtitle.Track `json:"subtitles"`
	Languages []string         `json:"languages"`

	ModifiedAt time.Time `json:"modified_at"`
	// Age is a human readable form of ModifiedAt, e.g. "3 hours ago".
	Age string `json:"age"`
}

type Library struct {
	Root      string  `json:"root"`
	Entries   []Entry `json:"entries"`
	TotalSize string  `json:"total_size"`
}
