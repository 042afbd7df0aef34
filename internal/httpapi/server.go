package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/config"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/events"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/library"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/release"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/icron"
)

// RequestValidator rejects download requests that can never succeed.
type RequestValidator interface {
	Validate(req jobs.Request) error
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
	RememberCookie(path string) error
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

// releaseService looks up and installs extractor releases.
type releaseService interface {
	Channels() []string
	Latest(ctx context.Context, channel string) (release.Release, error)
	InstallRelease(ctx context.Context, channel string, logf release.Logf) (versions.Installation, bool, error)
}

type installationLister interface {
	Installation(channel string) (versions.Installation, error)
}

type bindingLister interface {
	Bindings() []versions.Installation
}

type installHistory interface {
	ListInstalls(ctx context.Context, channel string, limit int) ([]release.InstallRecord, error)
}

type updateSchedule interface {
	TriggerInfo(now time.Time) (*icron.TriggerInfo, error)
	Channels() []string
}

type Server struct {
	queue     *jobs.Queue
	requests  RequestValidator
	validate  *validator.Validate
	bus       *events.Bus
	scanner   *library.Scanner
	settings  runtimeSettingsStore
	apply     runtimeSettingsApplier
	releases  releaseService
	installed installationLister
	bindings  bindingLister
	history   installHistory
	schedule  updateSchedule

	defaultOutputDir string
	defaultChannel   string
	cookieDir        string
	pythonBin        string
	ffmpegPath       string
	installTimeout   time.Duration

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithEventBus(bus *events.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithLibrary serves /api/library from scanner.
func WithLibrary(scanner *library.Scanner) Option {
	return func(s *Server) {
		s.scanner = scanner
	}
}

func WithDefaults(outputDir, channel string) Option {
	return func(s *Server) {
		s.defaultOutputDir = outputDir
		s.defaultChannel = channel
	}
}

func WithReleases(releases releaseService, installed installationLister) Option {
	return func(s *Server) {
		s.releases = releases
		s.installed = installed
	}
}

// WithBindings reports which installation each channel's jobs currently use.
func WithBindings(bindings bindingLister) Option {
	return func(s *Server) {
		s.bindings = bindings
	}
}

func WithInstallHistory(history installHistory) Option {
	return func(s *Server) {
		s.history = history
	}
}

func WithUpdateSchedule(schedule updateSchedule) Option {
	return func(s *Server) {
		s.schedule = schedule
	}
}

// WithCookieDir sets where uploaded cookie files are stored and where
// relative cookie_file names are looked up.
func WithCookieDir(dir string) Option {
	return func(s *Server) {
		s.cookieDir = dir
	}
}

func WithDependencies(pythonBin, ffmpegPath string) Option {
	return func(s *Server) {
		s.pythonBin = pythonBin
		s.ffmpegPath = ffmpegPath
	}
}

func NewServer(queue *jobs.Queue, requests RequestValidator, opts ...Option) *Server {
	s := &Server{
		queue:          queue,
		requests:       requests,
		validate:       validator.New(),
		bus:            events.NewBus(events.DefaultBuffer),
		defaultChannel: versions.ChannelStable,
		pythonBin:      "python3",
		installTimeout: 10 * time.Minute,
		uiEnabled:      false,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cookieDir == "" {
		s.cookieDir = filepath.Join(os.TempDir(), "youtube-to-emby-cookies")
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/download", s.handleDownload)
	s.mux.HandleFunc("/api/download_status/{id}", s.handleDownloadStatus)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/versions", s.handleVersions)
	s.mux.HandleFunc("/api/versions/{channel}/latest", s.handleLatestRelease)
	s.mux.HandleFunc("/api/versions/{channel}/install", s.handleInstallRelease)
	s.mux.HandleFunc("/api/ytdlp_info", s.handleExtractorInfo)
	s.mux.HandleFunc("/api/update_ytdlp", s.handleUpdateNightly)
	s.mux.HandleFunc("/api/upload_cookie", s.handleUploadCookie)
	s.mux.HandleFunc("/api/check_ffmpeg", s.handleCheckFFmpeg)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/library", s.handleLibrary)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
