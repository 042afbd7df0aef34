package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/icron"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration, read from environment
// variables with defaults.
//
// Environment Variables:
// System:
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - DATA_DIR: database, extractor installations and cookies (default: /app/data)
// - LOG_FILE: also write logs to this file instead of the terminal (optional)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :5000)
// - UI_ENABLED: serve the web UI (default: true)
// - UI_STATIC_DIR: web UI directory (default: /app/web)
//
// Downloads:
// - OUTPUT_DIR: default output root (default: /media/youtube)
// - DEFAULT_CHANNEL: extractor channel used when a request names none (default: stable)
// - DEFAULT_FORMAT: mp4 or mkv (default: mp4)
// - MAX_CONCURRENT_JOBS: worker count (default: 2)
// - MAX_RETAINED_JOBS: finished jobs kept in history (default: 1000)
//
// Extractor:
// - PYTHON_BIN: interpreter running yt-dlp (default: python3)
// - FFMPEG_PATH: ffmpeg binary, PATH lookup when empty
// - SOCKET_TIMEOUT: seconds (default: 30)
// - DOWNLOAD_RETRIES: (default: 10)
// - FORCE_IPV4: (default: true)
// - USER_AGENT: browser user agent sent to YouTube
// - HTTP_CHUNK_SIZE: bytes (default: 10485760)
// - SLEEP_INTERVAL / MAX_SLEEP_INTERVAL: seconds between requests (default: 2 / 5)
//
// Subtitles:
// - SUBTITLE_LANGUAGES: comma separated, preference order (default: ja,zh-Hans,zh-Hant)
// - SUBTITLE_DETECT_LANGUAGE: recover missing language codes (default: true)
//
// Thumbnails:
// - THUMBNAIL_TIMEOUT: seconds per attempt (default: 10)
// - THUMBNAIL_ATTEMPTS: (default: 3)
//
// Releases:
// - PYPI_URL / GITHUB_API_URL: release feeds
// - GITHUB_TOKEN: raises the GitHub API rate limit (optional)
// - UPDATE_CRON_EXPR: automatic update schedule, disabled when empty
// - AUTO_UPDATE_CHANNELS: comma separated (default: stable)
type Config struct {
	System    SystemConfig    `json:"system"`
	HTTP      HTTPConfig      `json:"http"`
	Download  DownloadConfig  `json:"download"`
	Extractor ExtractorConfig `json:"extractor"`
	Subtitles SubtitleConfig  `json:"subtitles"`
	Thumbnail ThumbnailConfig `json:"thumbnail"`
	Release   ReleaseConfig   `json:"release"`
}

type SystemConfig struct {
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
	DataDir  string `json:"data_dir"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type DownloadConfig struct {
	OutputDir      string          `json:"output_dir"`
	DefaultChannel string          `json:"default_channel"`
	DefaultFormat  media.Container `json:"default_format"`
	MaxConcurrent  int             `json:"max_concurrent"`
	MaxRetained    int             `json:"max_retained"`
}

type ExtractorConfig struct {
	PythonBin        string        `json:"python_bin"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	SocketTimeout    time.Duration `json:"socket_timeout"`
	Retries          int           `json:"retries"`
	ForceIPv4        bool          `json:"force_ipv4"`
	UserAgent        string        `json:"user_agent"`
	HTTPChunkSize    int64         `json:"http_chunk_size"`
	SleepInterval    time.Duration `json:"sleep_interval"`
	MaxSleepInterval time.Duration `json:"max_sleep_interval"`
}

type SubtitleConfig struct {
	Languages      []string `json:"languages"`
	DetectLanguage bool     `json:"detect_language"`
}

type ThumbnailConfig struct {
	Timeout  time.Duration `json:"timeout"`
	Attempts int           `json:"attempts"`
}

type ReleaseConfig struct {
	PyPIURL            string   `json:"pypi_url"`
	GitHubAPIURL       string   `json:"github_api_url"`
	GitHubToken        string   `json:"-"`
	CronExpr           string   `json:"cron_expr"`
	AutoUpdateChannels []string `json:"auto_update_channels"`
}

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	dbFileName       = "youtube-to-emby.db"
)

// DBPath is the SQLite file holding job and install history.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, dbFileName)
}

// VersionsDir is the root of the extractor version store.
func (c *Config) VersionsDir() string {
	return filepath.Join(c.System.DataDir, "yt-dlp")
}

// CookieDir holds uploaded cookie files.
func (c *Config) CookieDir() string {
	return filepath.Join(c.System.DataDir, "cookies")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogFile:  getEnvString("LOG_FILE", ""),
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":5000"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		Download: DownloadConfig{
			OutputDir:      getEnvString("OUTPUT_DIR", "/media/youtube"),
			DefaultChannel: getEnvString("DEFAULT_CHANNEL", versions.ChannelStable),
			DefaultFormat:  media.Container(getEnvString("DEFAULT_FORMAT", string(media.ContainerMP4))),
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT_JOBS", 2),
			MaxRetained:    getEnvInt("MAX_RETAINED_JOBS", 1000),
		},
		Extractor: ExtractorConfig{
			PythonBin:        getEnvString("PYTHON_BIN", "python3"),
			FFmpegPath:       getEnvString("FFMPEG_PATH", ""),
			SocketTimeout:    getEnvSeconds("SOCKET_TIMEOUT", 30),
			Retries:          getEnvInt("DOWNLOAD_RETRIES", 10),
			ForceIPv4:        getEnvBool("FORCE_IPV4", true),
			UserAgent:        getEnvString("USER_AGENT", defaultUserAgent),
			HTTPChunkSize:    int64(getEnvInt("HTTP_CHUNK_SIZE", 10<<20)),
			SleepInterval:    getEnvSeconds("SLEEP_INTERVAL", 2),
			MaxSleepInterval: getEnvSeconds("MAX_SLEEP_INTERVAL", 5),
		},
		Subtitles: SubtitleConfig{
			Languages:      getEnvList("SUBTITLE_LANGUAGES", []string{"ja", "zh-Hans", "zh-Hant"}),
			DetectLanguage: getEnvBool("SUBTITLE_DETECT_LANGUAGE", true),
		},
		Thumbnail: ThumbnailConfig{
			Timeout:  getEnvSeconds("THUMBNAIL_TIMEOUT", 10),
			Attempts: getEnvInt("THUMBNAIL_ATTEMPTS", 3),
		},
		Release: ReleaseConfig{
			PyPIURL:            getEnvString("PYPI_URL", "https://pypi.org"),
			GitHubAPIURL:       getEnvString("GITHUB_API_URL", "https://api.github.com"),
			GitHubToken:        getEnvString("GITHUB_TOKEN", ""),
			CronExpr:           getEnvString("UPDATE_CRON_EXPR", ""),
			AutoUpdateChannels: getEnvList("AUTO_UPDATE_CHANNELS", []string{versions.ChannelStable}),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if !c.Download.DefaultFormat.Valid() {
		return fmt.Errorf("DEFAULT_FORMAT must be mp4 or mkv, got %q", c.Download.DefaultFormat)
	}
	if err := versions.ValidateChannel(c.Download.DefaultChannel); err != nil {
		return fmt.Errorf("DEFAULT_CHANNEL: %w", err)
	}
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	for _, lang := range c.Subtitles.Languages {
		if _, err := language.Parse(lang); err != nil {
			return fmt.Errorf("invalid subtitle language %q: %w", lang, err)
		}
	}
	for _, ch := range c.Release.AutoUpdateChannels {
		if err := versions.ValidateChannel(ch); err != nil {
			return fmt.Errorf("AUTO_UPDATE_CHANNELS: %w", err)
		}
	}
	if c.Release.CronExpr != "" {
		if _, err := icron.Parse(c.Release.CronExpr); err != nil {
			return fmt.Errorf("UPDATE_CRON_EXPR: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
