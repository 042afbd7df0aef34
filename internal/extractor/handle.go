package extractor

import (
	"context"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
)

// Handle is one channel's extractor namespace, resolved once per job.
type Handle interface {
	Channel() string
	Version() string

	FetchMetadata(ctx context.Context, url string, opts Options) (*media.VideoInfo, error)
	// DownloadMedia stores the merged video as <outputDir>/<stem>.<container>
	// and returns the resulting file path.
	DownloadMedia(ctx context.Context, info *media.VideoInfo, outputDir string, opts Options) (string, error)
	// DownloadSubtitles writes caption tracks next to the video and returns the
	// raw files the extractor produced.
	DownloadSubtitles(ctx context.Context, info *media.VideoInfo, outputDir string, opts SubtitleOptions) ([]string, error)

	// Close releases the installation lease taken at resolve time.
	Close() error
}

// Options is the network and output policy handed to every extractor call.
type Options struct {
	CookieFile       string
	Container        media.Container
	SocketTimeout    time.Duration
	Retries          int
	ForceIPv4        bool
	UserAgent        string
	HTTPChunkSize    int64
	SleepInterval    time.Duration
	MaxSleepInterval time.Duration
	// Progress receives extractor output lines as they arrive.
	Progress func(line string)
}

type SubtitleOptions struct {
	Options
	Languages []string
	Formats   []string
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

func DefaultOptions() Options {
	return Options{
		Container:        media.ContainerMP4,
		SocketTimeout:    30 * time.Second,
		Retries:          10,
		ForceIPv4:        true,
		UserAgent:        DefaultUserAgent,
		HTTPChunkSize:    10 << 20,
		SleepInterval:    2 * time.Second,
		MaxSleepInterval: 5 * time.Second,
	}
}
