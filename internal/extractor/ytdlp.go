package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
)

// YTDLP runs a channel's yt-dlp copy as `python -m yt_dlp` with PYTHONPATH
// pinned to the installation, so every call is isolated in its own process.
type YTDLP struct {
	inst    versions.Installation
	python  string
	ffmpeg  string
	runner  Runner
	release func()

	closeOnce sync.Once
}

func NewYTDLP(inst versions.Installation, python, ffmpegLocation string, runner Runner, release func()) *YTDLP {
	if python == "" {
		python = "python3"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &YTDLP{
		inst:    inst,
		python:  python,
		ffmpeg:  ffmpegLocation,
		runner:  runner,
		release: release,
	}
}

func (h *YTDLP) Channel() string { return h.inst.Channel }

func (h *YTDLP) Version() string { return h.inst.Version }

func (h *YTDLP) Close() error {
	h.closeOnce.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
	return nil
}

func (h *YTDLP) FetchMetadata(ctx context.Context, url string, opts Options) (*media.VideoInfo, error) {
	url = media.CanonicalURL(url)

	args := networkArgs(opts)
	args = append(args, "--dump-single-json", "--skip-download", "--no-playlist", url)

	cmd := h.command(opts, args)
	cmd.StdoutIsResult = true
	out, err := h.runner.Run(ctx, cmd)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrMetadataFetchFailed, "metadata fetch failed").
			WithContext("channel", h.inst.Channel)
	}
	return ParseInfo(out, url)
}

func (h *YTDLP) DownloadMedia(ctx context.Context, info *media.VideoInfo, outputDir string, opts Options) (string, error) {
	container := opts.Container
	if !container.Valid() {
		container = media.ContainerMP4
	}
	stem := info.Stem()

	args := append(networkArgs(opts), pacingArgs(opts)...)
	if h.ffmpeg != "" {
		args = append(args, "--ffmpeg-location", h.ffmpeg)
	}
	args = append(args,
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", string(container),
		"-o", outputTemplate(outputDir, stem),
		"--newline",
		"--no-playlist",
		info.URL,
	)

	if _, err := h.runner.Run(ctx, h.command(opts, args)); err != nil {
		return "", apperr.Wrap(err, apperr.ErrVideoDownloadFailed, "video download failed")
	}

	found, err := file.FindByStem(outputDir, stem, string(container))
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrVideoDownloadFailed, "video download failed")
	}
	if len(found) == 0 {
		return "", apperr.Newf(apperr.ErrVideoDownloadFailed, "video download failed: no %s file for %q in %s", container, stem, outputDir)
	}
	exact := filepath.Join(outputDir, stem+"."+string(container))
	for _, path := range found {
		if path == exact {
			return path, nil
		}
	}
	return found[0], nil
}

func (h *YTDLP) DownloadSubtitles(ctx context.Context, info *media.VideoInfo, outputDir string, opts SubtitleOptions) ([]string, error) {
	stem := info.Stem()
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"ass", "srt", "vtt"}
	}

	args := append(networkArgs(opts.Options), pacingArgs(opts.Options)...)
	args = append(args, "--skip-download", "--write-subs")
	if len(opts.Languages) > 0 {
		args = append(args, "--sub-langs", strings.Join(opts.Languages, ","))
	}
	args = append(args,
		"--sub-format", strings.Join(formats, "/"),
		"-o", outputTemplate(outputDir, stem),
		"--no-playlist",
		info.URL,
	)

	if _, err := h.runner.Run(ctx, h.command(opts.Options, args)); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrSubtitleFailed, "subtitle download failed")
	}

	found, err := file.FindByStem(outputDir, stem, formats...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrSubtitleFailed, "list subtitle files")
	}
	return found, nil
}

func (h *YTDLP) command(opts Options, args []string) Command {
	return Command{
		Name: h.python,
		Args: append([]string{"-m", versions.PackageDirName}, args...),
		Env: []string{
			"PYTHONPATH=" + h.inst.Dir,
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONIOENCODING=utf-8",
		},
		OnLine: opts.Progress,
	}
}

func networkArgs(opts Options) []string {
	var args []string
	if opts.ForceIPv4 {
		args = append(args, "--force-ipv4")
	}
	if opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", formatSeconds(opts.SocketTimeout.Seconds()))
	}
	if opts.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(opts.Retries))
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
		args = append(args, "--add-headers", "Accept-Language:en-US,en;q=0.9")
	}
	if opts.CookieFile != "" {
		args = append(args, "--cookies", opts.CookieFile)
	}
	return args
}

func pacingArgs(opts Options) []string {
	var args []string
	if opts.HTTPChunkSize > 0 {
		args = append(args, "--http-chunk-size", strconv.FormatInt(opts.HTTPChunkSize, 10))
	}
	if opts.SleepInterval > 0 {
		args = append(args, "--sleep-interval", formatSeconds(opts.SleepInterval.Seconds()))
		if opts.MaxSleepInterval > opts.SleepInterval {
			args = append(args, "--max-sleep-interval", formatSeconds(opts.MaxSleepInterval.Seconds()))
		}
	}
	return args
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// outputTemplate escapes the stem so yt-dlp does not expand '%' sequences in titles.
func outputTemplate(outputDir, stem string) string {
	return filepath.Join(outputDir, strings.ReplaceAll(stem, "%", "%%")+".%(ext)s")
}

type rawInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Uploader    string   `json:"uploader"`
	UploadDate  string   `json:"upload_date"`
	Thumbnail   string   `json:"thumbnail"`
	Tags        []string `json:"tags"`
	WebpageURL  string   `json:"webpage_url"`
	Formats     []struct {
		FormatID   string  `json:"format_id"`
		Ext        string  `json:"ext"`
		Resolution string  `json:"resolution"`
		Filesize   float64 `json:"filesize"`
	} `json:"formats"`
}

// ParseInfo normalizes a yt-dlp JSON dump. requestURL becomes the info URL
// when it is set, matching what the downloads are later run against.
func ParseInfo(data []byte, requestURL string) (*media.VideoInfo, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, apperr.New(apperr.ErrMetadataFetchFailed, "metadata fetch failed: extractor returned no data")
	}
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrMetadataFetchFailed, "metadata fetch failed: decode extractor output")
	}
	if raw.ID == "" && raw.Title == "" {
		return nil, apperr.New(apperr.ErrMetadataFetchFailed, "metadata fetch failed: extractor output has no id or title")
	}

	date, year := media.PublishDate(raw.UploadDate)
	info := &media.VideoInfo{
		ID:           raw.ID,
		Title:        media.SanitizeTitle(raw.Title),
		Description:  raw.Description,
		Uploader:     raw.Uploader,
		PublishDate:  date,
		Year:         year,
		ThumbnailURL: raw.Thumbnail,
		Tags:         raw.Tags,
		URL:          requestURL,
		Raw:          json.RawMessage(data),
	}
	if info.URL == "" {
		info.URL = media.CanonicalURL(raw.WebpageURL)
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}
	for _, f := range raw.Formats {
		info.Formats = append(info.Formats, media.Format{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			Filesize:   int64(f.Filesize),
		})
	}
	return info, nil
}

// Factory builds the handle for a resolved installation.
type Factory func(inst versions.Installation, release func()) Handle

// NewYTDLPFactory returns a Factory producing process backed handles.
func NewYTDLPFactory(python, ffmpegLocation string, runner Runner) Factory {
	return func(inst versions.Installation, release func()) Handle {
		return NewYTDLP(inst, python, ffmpegLocation, runner, release)
	}
}

var _ Handle = (*YTDLP)(nil)

func (h *YTDLP) String() string {
	return fmt.Sprintf("yt-dlp %s (%s)", h.inst.Version, h.inst.Channel)
}
