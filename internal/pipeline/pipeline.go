package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/extractor"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/subtitle"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
	"golang.org/x/time/rate"
)

const DefaultProgressInterval = 2 * time.Second

// PosterFetcher stores a video thumbnail as a JPEG poster.
type PosterFetcher interface {
	Fetch(ctx context.Context, url, target string) error
}

type Config struct {
	// DefaultChannel is used when a request names no channel.
	DefaultChannel string
	// DefaultFormat is used when a request names no container.
	DefaultFormat media.Container
	// Extractor is the network policy applied to every extractor call. The
	// request's cookie file and container override it per job.
	Extractor extractor.Options
	Subtitles *subtitle.Pipeline
	Posters   PosterFetcher
	// ProgressInterval is the minimum gap between forwarded download progress
	// lines. Other extractor output is forwarded unthrottled.
	ProgressInterval time.Duration
}

type Pipeline struct {
	resolver Resolver
	sink     Sink
	cfg      Config
	now      func() time.Time

	mu             sync.RWMutex
	defaultChannel string
	defaultFormat  media.Container
}

func New(resolver Resolver, sink Sink, cfg Config) *Pipeline {
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = versions.ChannelStable
	}
	if !cfg.DefaultFormat.Valid() {
		cfg.DefaultFormat = media.ContainerMP4
	}
	if cfg.Subtitles == nil {
		cfg.Subtitles = subtitle.NewPipeline(subtitle.PipelineConfig{})
	}
	if cfg.Posters == nil {
		cfg.Posters = media.NewPosterFetcher(media.DefaultPosterTimeout, media.DefaultPosterAttempts)
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if sink == nil {
		sink = SinkFuncs{}
	}
	return &Pipeline{
		resolver:       resolver,
		sink:           sink,
		cfg:            cfg,
		now:            time.Now,
		defaultChannel: cfg.DefaultChannel,
		defaultFormat:  cfg.DefaultFormat,
	}
}

// SetDefaults replaces the channel and container used by requests that name
// none. Jobs already past preparation keep theirs.
func (p *Pipeline) SetDefaults(channel string, format media.Container) error {
	if err := versions.ValidateChannel(channel); err != nil {
		return err
	}
	if !format.Valid() {
		return apperr.Newf(apperr.ErrInvalidInput, "unsupported video format %q", format)
	}
	p.mu.Lock()
	p.defaultChannel = channel
	p.defaultFormat = format
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) defaults() (string, media.Container) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultChannel, p.defaultFormat
}

// Validate rejects requests that can never succeed. It runs before a job is
// queued so callers get the error synchronously.
func (p *Pipeline) Validate(req jobs.Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return apperr.New(apperr.ErrInvalidInput, "video url is required")
	}
	if strings.TrimSpace(req.OutputRoot) == "" {
		return apperr.New(apperr.ErrInvalidInput, "output directory is required")
	}
	if req.VideoFormat != "" && !media.Container(req.VideoFormat).Valid() {
		return apperr.Newf(apperr.ErrInvalidInput, "unsupported video format %q", req.VideoFormat)
	}
	if req.Channel != "" {
		return versions.ValidateChannel(req.Channel)
	}
	return nil
}

// Result is the outcome of one job.
type Result struct {
	Status    jobs.Status
	OutputDir string
	Tracks    []subtitle.Track
	Err       error
}

// Execute adapts Run to the queue's executor signature.
func (p *Pipeline) Execute(ctx context.Context, job *jobs.Job) error {
	return p.Run(ctx, job).Err
}

// Run drives job through every stage. Failures and panics end in an error
// event; Run itself never fails.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job) Result {
	st := &jobState{job: job, req: job.Request}
	defer st.close()

	err := apperr.SafeExecute(func() error {
		for _, s := range stages {
			p.emit(st, s.status, s.message)
			if err := s.run(p, ctx, st); err != nil {
				if s.fatal {
					return err
				}
				p.warn(st, s.status, err)
			}
		}
		return nil
	})
	if err != nil {
		msg := errorMessage(err)
		log.Error("Job %s failed: %v", job.ID, err)
		p.log(st, "Error: "+msg)
		p.sink.Status(jobs.Event{
			JobID:     job.ID,
			SessionID: job.SessionID,
			Status:    jobs.StatusError,
			Message:   "Error: " + msg,
			Error:     msg,
			Time:      p.now(),
		})
		return Result{Status: jobs.StatusError, Err: err, Tracks: st.tracks}
	}

	p.sink.Status(jobs.Event{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    jobs.StatusCompleted,
		Message:   "Download complete!",
		OutputDir: st.outputDir,
		Time:      p.now(),
	})
	p.log(st, "Download complete!")
	log.Info("Job %s completed: %s", job.ID, st.outputDir)
	return Result{Status: jobs.StatusCompleted, OutputDir: st.outputDir, Tracks: st.tracks}
}

// errorMessage prefers the typed message of an apperr so users do not see the
// raw extractor stderr in the status line.
func errorMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

type jobState struct {
	job       *jobs.Job
	req       jobs.Request
	opts      extractor.Options
	handle    extractor.Handle
	info      *media.VideoInfo
	outputDir string
	videoPath string
	tracks    []subtitle.Track
}

func (st *jobState) close() {
	if st.handle == nil {
		return
	}
	if err := st.handle.Close(); err != nil {
		log.Warn("Failed to release extractor for job %s: %v", st.job.ID, err)
	}
}

type stage struct {
	status  jobs.Status
	message string
	fatal   bool
	run     func(p *Pipeline, ctx context.Context, st *jobState) error
}

var stages = []stage{
	{jobs.StatusStarting, "Starting download task...", true, (*Pipeline).prepare},
	{jobs.StatusGettingInfo, "Fetching video information...", true, (*Pipeline).fetchInfo},
	{jobs.StatusDownloadingVideo, "Downloading video...", true, (*Pipeline).downloadVideo},
	{jobs.StatusDownloadingSubtitles, "Downloading subtitles...", false, (*Pipeline).downloadSubtitles},
	{jobs.StatusGeneratingMetadata, "Generating metadata files...", false, (*Pipeline).writeSidecars},
}

func (p *Pipeline) prepare(_ context.Context, st *jobState) error {
	if err := p.Validate(st.req); err != nil {
		return err
	}
	channel, format := p.defaults()
	if st.req.Channel == "" {
		st.req.Channel = channel
	}
	if st.req.VideoFormat == "" {
		st.req.VideoFormat = string(format)
	}

	st.opts = p.cfg.Extractor
	st.opts.Container = media.Container(st.req.VideoFormat)
	if st.req.CookieFile != "" {
		cookie, err := extractor.ResolveCookiePath(st.req.CookieFile)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrInvalidInput, "cookie file not found").WithContext("path", st.req.CookieFile)
		}
		st.opts.CookieFile = cookie
		p.log(st, "Using cookie file: "+cookie)
	}
	st.opts.Progress = p.progress(st)
	return nil
}

func (p *Pipeline) fetchInfo(ctx context.Context, st *jobState) error {
	handle, err := p.resolver.Resolve(st.req.Channel)
	if err != nil {
		return err
	}
	st.handle = handle
	p.log(st, fmt.Sprintf("Using yt-dlp %s (%s)", handle.Version(), handle.Channel()))

	info, err := handle.FetchMetadata(ctx, st.req.URL, st.opts)
	if err != nil {
		return err
	}
	if info == nil {
		return apperr.New(apperr.ErrMetadataFetchFailed, "metadata fetch failed")
	}
	st.info = info
	p.log(st, "Video title: "+info.Title)

	st.outputDir = filepath.Join(st.req.OutputRoot, info.Stem())
	if err := os.MkdirAll(st.outputDir, 0o755); err != nil {
		return apperr.Wrap(err, apperr.ErrInvalidInput, "create output directory").WithContext("path", st.outputDir)
	}
	p.log(st, "Created output directory: "+st.outputDir)
	return nil
}

func (p *Pipeline) downloadVideo(ctx context.Context, st *jobState) error {
	path, err := st.handle.DownloadMedia(ctx, st.info, st.outputDir, st.opts)
	if err != nil {
		return err
	}
	if path == "" {
		return apperr.New(apperr.ErrVideoDownloadFailed, "video download failed")
	}
	if _, err := os.Stat(path); err != nil {
		return apperr.Wrap(err, apperr.ErrVideoDownloadFailed, "video download failed")
	}
	st.videoPath = path
	p.log(st, "Video saved as: "+filepath.Base(path))
	return nil
}

func (p *Pipeline) downloadSubtitles(ctx context.Context, st *jobState) error {
	tracks, err := p.cfg.Subtitles.Acquire(ctx, st.handle, st.info, st.outputDir, st.opts)
	st.tracks = tracks
	for _, t := range tracks {
		p.log(st, "Subtitle saved as: "+filepath.Base(t.Path))
	}
	if err == nil && len(tracks) == 0 {
		p.log(st, "No subtitles found")
	}
	return err
}

func (p *Pipeline) writeSidecars(ctx context.Context, st *jobState) error {
	stem := st.info.Stem()

	posterErr := p.cfg.Posters.Fetch(ctx, st.info.ThumbnailURL, filepath.Join(st.outputDir, media.PosterName(stem)))
	if posterErr == nil {
		p.log(st, "Poster saved as: "+media.PosterName(stem))
	}

	nfoName := stem + ".nfo"
	nfoErr := media.WriteNFO(filepath.Join(st.outputDir, nfoName), st.info)
	if nfoErr == nil {
		p.log(st, "NFO saved as: "+nfoName)
	}
	return errors.Join(posterErr, nfoErr)
}

// progress forwards extractor output to the job log. Download percentage
// lines are rate limited.
func (p *Pipeline) progress(st *jobState) func(line string) {
	limiter := rate.NewLimiter(rate.Every(p.cfg.ProgressInterval), 1)
	return func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		if isProgressLine(line) && !limiter.Allow() {
			return
		}
		p.log(st, line)
	}
}

func isProgressLine(line string) bool {
	return strings.HasPrefix(line, "[download]") && strings.Contains(line, "%")
}

func (p *Pipeline) emit(st *jobState, status jobs.Status, message string) {
	p.sink.Status(jobs.Event{
		JobID:     st.job.ID,
		SessionID: st.job.SessionID,
		Status:    status,
		Message:   message,
		Time:      p.now(),
	})
	p.log(st, message)
}

func (p *Pipeline) log(st *jobState, message string) {
	p.sink.Log(st.job.ID, st.job.SessionID, message)
}

// warn reports a non fatal stage failure. Joined errors are reported one by
// one.
func (p *Pipeline) warn(st *jobState, status jobs.Status, err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		log.Warn("Job %s: %s: %v", st.job.ID, status, e)
		p.log(st, "Warning: "+e.Error())
	}
}
