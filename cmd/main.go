package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/config"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/events"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/extractor"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/httpapi"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/library"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/persistence"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/pipeline"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/release"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/subtitle"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

const shutdownTimeout = 10 * time.Second

// backgroundService is started before the HTTP server and stopped after it.
type backgroundService interface {
	Start(ctx context.Context) error
	Stop()
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, settings, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	level := log.ParseLevel(cfg.System.LogLevel)
	log.InitLogger(level)
	if cfg.System.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.System.LogFile, level)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		log.SetGlobal(fileLogger.Logger)
	}

	app, err := newApp(cfg, settings)
	if err != nil {
		log.Fatal("Failed to initialize: %v", err)
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, app.services, app.server); err != nil {
		log.Fatal("Server stopped: %v", err)
	}
}

// loadConfig reads the environment and lets the saved runtime settings file
// override it.
func loadConfig() (*config.Config, *config.RuntimeSettingsStore, error) {
	path := config.RuntimeSettingsFilePath()
	saved, err := config.LoadRuntimeSettingsFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring runtime settings file %s: %v", path, err)
		saved = config.RuntimeSettings{}
	}

	cfg, err := config.NewFromEnv(config.WithRuntimeSettings(saved))
	if err != nil {
		return nil, nil, err
	}

	initial := cfg.RuntimeSettings()
	initial.CookieFile = saved.CookieFile
	store, err := config.NewRuntimeSettingsStore(path, initial)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

type app struct {
	services []backgroundService
	server   *httpapi.Server
	db       *persistence.SQLiteStore
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		log.Warn("Failed to close database: %v", err)
	}
}

func newApp(cfg *config.Config, settings *config.RuntimeSettingsStore) (*app, error) {
	store, err := versions.NewStore(cfg.VersionsDir())
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	loader := extractor.NewLoader(store, extractor.NewYTDLPFactory(cfg.Extractor.PythonBin, cfg.Extractor.FFmpegPath, extractor.ExecRunner{}))

	db, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	fetcher := release.NewFetcher(store,
		release.WithEndpoints(cfg.Release.PyPIURL, cfg.Release.GitHubAPIURL),
		release.WithGitHubToken(cfg.Release.GitHubToken),
		release.WithInvalidator(loader),
		release.WithHistory(db),
	)

	queue := jobs.NewQueue(cfg.Download.MaxConcurrent, db)
	queue.SetMaxJobs(cfg.Download.MaxRetained)

	bus := events.NewBus(events.DefaultBuffer)
	scanner := library.NewScanner()

	p := pipeline.New(loader, pipeline.MultiSink{
		pipeline.SinkFuncs{OnStatus: queue.Apply},
		bus,
		pipeline.SinkFuncs{OnStatus: func(ev jobs.Event) {
			if ev.Status == jobs.StatusCompleted {
				scanner.Invalidate()
			}
		}},
	}, pipeline.Config{
		DefaultChannel: cfg.Download.DefaultChannel,
		DefaultFormat:  cfg.Download.DefaultFormat,
		Extractor: extractor.Options{
			SocketTimeout:    cfg.Extractor.SocketTimeout,
			Retries:          cfg.Extractor.Retries,
			ForceIPv4:        cfg.Extractor.ForceIPv4,
			UserAgent:        cfg.Extractor.UserAgent,
			HTTPChunkSize:    cfg.Extractor.HTTPChunkSize,
			SleepInterval:    cfg.Extractor.SleepInterval,
			MaxSleepInterval: cfg.Extractor.MaxSleepInterval,
		},
		Subtitles: subtitle.NewPipeline(subtitle.PipelineConfig{
			Languages:      cfg.Subtitles.Languages,
			DetectLanguage: cfg.Subtitles.DetectLanguage,
		}),
		Posters: media.NewPosterFetcher(cfg.Thumbnail.Timeout, cfg.Thumbnail.Attempts),
	})

	opts := []httpapi.Option{
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithEventBus(bus),
		httpapi.WithLibrary(scanner),
		httpapi.WithDefaults(cfg.Download.OutputDir, cfg.Download.DefaultChannel),
		httpapi.WithReleases(fetcher, store),
		httpapi.WithBindings(loader),
		httpapi.WithInstallHistory(db),
		httpapi.WithCookieDir(cfg.CookieDir()),
		httpapi.WithDependencies(cfg.Extractor.PythonBin, cfg.Extractor.FFmpegPath),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			channel, format := next.Channel, media.Container(next.VideoFormat)
			if channel == "" {
				channel = cfg.Download.DefaultChannel
			}
			if format == "" {
				format = cfg.Download.DefaultFormat
			}
			if err := p.SetDefaults(channel, format); err != nil {
				return err
			}
			log.Info("Runtime settings applied: channel=%s format=%s output=%s", channel, format, next.OutputDir)
			return nil
		}),
	}

	services := []backgroundService{&queueService{queue: queue, exec: p.Execute}}
	if cfg.Release.CronExpr != "" {
		scheduler, err := release.NewScheduler(fetcher, cfg.Release.CronExpr, cfg.Release.AutoUpdateChannels)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("release schedule: %w", err)
		}
		services = append(services, scheduler)
		opts = append(opts, httpapi.WithUpdateSchedule(scheduler))
	}

	return &app{
		services: services,
		server:   httpapi.NewServer(queue, p, opts...),
		db:       db,
	}, nil
}

// queueService runs the job workers for the lifetime of the process.
type queueService struct {
	queue *jobs.Queue
	exec  jobs.Executor
}

func (q *queueService) Start(context.Context) error {
	q.queue.Start(q.exec)
	return nil
}

func (q *queueService) Stop() {
	q.queue.Stop()
}

// runWithComponents starts services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, services []backgroundService, srv httpServer) error {
	started := make([]backgroundService, 0, len(services))
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			started[i].Stop()
		}
	}()
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return err
		}
		started = append(started, svc)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
