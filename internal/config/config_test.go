package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("SUBTITLE_LANGUAGES", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, "/app/data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/app/data", "youtube-to-emby.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/app/data", "yt-dlp"), cfg.VersionsDir())
	assert.Equal(t, "stable", cfg.Download.DefaultChannel)
	assert.Equal(t, media.ContainerMP4, cfg.Download.DefaultFormat)
	assert.Equal(t, []string{"ja", "zh-Hans", "zh-Hant"}, cfg.Subtitles.Languages)
	assert.Equal(t, 10*time.Second, cfg.Thumbnail.Timeout)
	assert.Equal(t, 3, cfg.Thumbnail.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Extractor.SocketTimeout)
	assert.True(t, cfg.Extractor.ForceIPv4)
	assert.Empty(t, cfg.Release.CronExpr)
}

func TestNewFromEnv_FromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/yte")
	t.Setenv("DEFAULT_CHANNEL", "nightly")
	t.Setenv("DEFAULT_FORMAT", "mkv")
	t.Setenv("SUBTITLE_LANGUAGES", " en , ja ,")
	t.Setenv("FORCE_IPV4", "false")
	t.Setenv("UPDATE_CRON_EXPR", "@daily")
	t.Setenv("AUTO_UPDATE_CHANNELS", "stable,nightly")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/yte", "cookies"), cfg.CookieDir())
	assert.Equal(t, "nightly", cfg.Download.DefaultChannel)
	assert.Equal(t, media.ContainerMKV, cfg.Download.DefaultFormat)
	assert.Equal(t, []string{"en", "ja"}, cfg.Subtitles.Languages)
	assert.False(t, cfg.Extractor.ForceIPv4)
	assert.Equal(t, "@daily", cfg.Release.CronExpr)
	assert.Equal(t, []string{"stable", "nightly"}, cfg.Release.AutoUpdateChannels)
}

func TestNewFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DEFAULT_FORMAT", "avi"},
		{"DEFAULT_CHANNEL", "../stable"},
		{"UPDATE_CRON_EXPR", "every day"},
		{"MAX_CONCURRENT_JOBS", "0"},
		{"AUTO_UPDATE_CHANNELS", "stable,Bad Channel"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewFromEnv()
			require.Error(t, err)
		})
	}
}
