package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/icron"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the choices remembered between sessions: the last
// cookie file, channel, container and output root.
type RuntimeSettings struct {
	CookieFile     string `json:"cookie_file"`
	Channel        string `json:"channel"`
	VideoFormat    string `json:"video_format"`
	OutputDir      string `json:"output_dir"`
	UpdateCronExpr string `json:"update_cron_expr"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if s.Channel != "" {
		if err := versions.ValidateChannel(s.Channel); err != nil {
			return err
		}
	}
	if s.VideoFormat != "" && !media.Container(s.VideoFormat).Valid() {
		return fmt.Errorf("video_format must be mp4 or mkv")
	}
	if strings.TrimSpace(s.UpdateCronExpr) != "" {
		if _, err := icron.Parse(s.UpdateCronExpr); err != nil {
			return fmt.Errorf("invalid update_cron_expr: %w", err)
		}
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		Channel:        c.Download.DefaultChannel,
		VideoFormat:    string(c.Download.DefaultFormat),
		OutputDir:      c.Download.OutputDir,
		UpdateCronExpr: c.Release.CronExpr,
	}
}

// WithRuntimeSettings lets saved settings override the environment. Empty
// fields keep the environment value.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.Channel) != "" {
			c.Download.DefaultChannel = settings.Channel
		}
		if strings.TrimSpace(settings.VideoFormat) != "" {
			c.Download.DefaultFormat = media.Container(settings.VideoFormat)
		}
		if strings.TrimSpace(settings.OutputDir) != "" {
			c.Download.OutputDir = settings.OutputDir
		}
		if strings.TrimSpace(settings.UpdateCronExpr) != "" {
			c.Release.CronExpr = settings.UpdateCronExpr
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	var settings RuntimeSettings
	if err := file.ReadJSON(path, &settings); err != nil {
		return RuntimeSettings{}, err
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return file.WriteJSONAtomic(path, settings)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}

// RememberCookie records the cookie file of the latest request and persists it
// when it changed.
func (s *RuntimeSettingsStore) RememberCookie(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.CookieFile == path {
		return nil
	}
	next := s.current
	next.CookieFile = path
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return err
	}
	s.current = next
	return nil
}
