package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/config"
)

type fakeService struct {
	name     string
	startErr error
	order    *[]string
	mu       *sync.Mutex
}

func (f *fakeService) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.record("start " + f.name)
	return nil
}

func (f *fakeService) Stop() {
	f.record("stop " + f.name)
}

func (f *fakeService) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.order = append(*f.order, s)
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Addr:      "127.0.0.1:0",
			UIEnabled: true,
		},
	}
}

func TestRunWithComponents_StartsServicesAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
	)
	services := []backgroundService{
		&fakeService{name: "queue", order: &order, mu: &mu},
		&fakeService{name: "scheduler", order: &order, mu: &mu},
	}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), services, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start queue", "start scheduler", "stop scheduler", "stop queue"}, order)
}

func TestRunWithComponents_StartFailureStopsStarted(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	services := []backgroundService{
		&fakeService{name: "queue", order: &order, mu: &mu},
		&fakeService{name: "scheduler", order: &order, mu: &mu, startErr: errors.New("bad cron")},
	}

	err := runWithComponents(context.Background(), testConfig(), services, newFakeHTTP())
	require.EqualError(t, err, "bad cron")
	assert.Equal(t, []string{"start queue", "stop queue"}, order)
}

func TestRunWithComponents_ListenFailure(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address already in use")

	err := runWithComponents(context.Background(), testConfig(), nil, httpSrv)
	require.EqualError(t, err, "address already in use")
}

func TestLoadConfig_UsesSavedSettings(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	require.NoError(t, config.WriteRuntimeSettingsFile(settingsPath, config.RuntimeSettings{
		Channel:     "nightly",
		VideoFormat: "mkv",
		CookieFile:  "/data/cookies/cookies_1.txt",
	}))
	t.Setenv("SETTINGS_FILE", settingsPath)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "media"))

	cfg, store, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Download.DefaultChannel)
	assert.Equal(t, "mkv", string(cfg.Download.DefaultFormat))

	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, "/data/cookies/cookies_1.txt", current.CookieFile)
	assert.Equal(t, filepath.Join(dir, "media"), current.OutputDir)
}

func TestLoadConfig_MissingSettingsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SETTINGS_FILE", filepath.Join(dir, "missing.json"))
	t.Setenv("DATA_DIR", dir)
	t.Setenv("DEFAULT_CHANNEL", "stable")

	cfg, store, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "stable", cfg.Download.DefaultChannel)
	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Empty(t, current.CookieFile)
}

func TestNewApp_WiresServer(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SETTINGS_FILE", filepath.Join(dir, "settings.json"))
	t.Setenv("DATA_DIR", dir)
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "media"))
	t.Setenv("UPDATE_CRON_EXPR", "0 4 * * *")

	cfg, store, err := loadConfig()
	require.NoError(t, err)

	a, err := newApp(cfg, store)
	require.NoError(t, err)
	defer a.close()

	assert.Len(t, a.services, 2)
	assert.FileExists(t, cfg.DBPath())
	assert.NotNil(t, a.server.Handler())
}
