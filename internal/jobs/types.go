package jobs

import (
	"strings"
	"time"
)

type Status string

const (
	// StatusQueued is held by a job until a worker picks it up; the pipeline
	// never emits it.
	StatusQueued               Status = "queued"
	StatusStarting             Status = "starting"
	StatusGettingInfo          Status = "getting_info"
	StatusDownloadingVideo     Status = "downloading_video"
	StatusDownloadingSubtitles Status = "downloading_subtitles"
	StatusGeneratingMetadata   Status = "generating_metadata"
	StatusCompleted            Status = "completed"
	StatusError                Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether a worker is processing the job.
func (s Status) Active() bool {
	return s != StatusQueued && !s.Terminal()
}

// Request is what a caller asks the system to acquire.
type Request struct {
	URL         string `json:"url"`
	OutputRoot  string `json:"output_dir"`
	CookieFile  string `json:"cookie_file,omitempty"`
	VideoFormat string `json:"video_format"`
	Channel     string `json:"channel,omitempty"`
}

// DedupeKey identifies requests that would produce the same output.
func (r Request) DedupeKey() string {
	return strings.Join([]string{strings.TrimSpace(r.URL), strings.TrimSpace(r.OutputRoot), r.VideoFormat, r.Channel}, "|")
}

type EnqueueRequest struct {
	Request   Request
	SessionID string
}

type Job struct {
	ID        string    `json:"task_id"`
	SessionID string    `json:"session_id"`
	Request   Request   `json:"request"`
	DedupeKey string    `json:"dedupe_key"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	OutputDir string    `json:"output_dir,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one status transition of a job.
type Event struct {
	JobID     string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	// OutputDir is only set on StatusCompleted.
	OutputDir string `json:"output_dir,omitempty"`
	// Error is only set on StatusError.
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}
