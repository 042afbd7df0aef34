package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

const (
	FormatASS = "ass"
	FormatSRT = "srt"
	FormatVTT = "vtt"
)

// Reader is the interface for reading subtitle files
type Reader interface {
	Read() (*File, error)
}

// Writer is the interface for writing subtitle files
type Writer interface {
	Write(path string, subtitle *File) error
}

// Line represents a single cue
type Line struct {
	Index     int           // cue index, 1 based
	StartTime time.Duration // start time
	EndTime   time.Duration // end time
	Text      string        // cue text, lines separated by \n
}

// File represents subtitle file
type File struct {
	Lines    []Line
	Language language.Tag
	Format   string // e.g. SRT, ASS, VTT etc
	Path     string
}

// Track is a caption file retained next to the video.
type Track struct {
	// Language is empty when the file name carried no code and detection was
	// disabled or inconclusive.
	Language  string `json:"language,omitempty"`
	Format    string `json:"format"`
	Path      string `json:"path"`
	Converted bool   `json:"converted,omitempty"`
}
