package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/subtitle"
)

func writeEntry(t *testing.T, root, stem string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, stem)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, media.WriteNFO(filepath.Join(dir, stem+".nfo"), &media.VideoInfo{
		Title:       stem,
		PublishDate: "2024-08-06",
		Year:        "2024",
		Uploader:    "Channel",
		Tags:        []string{"music"},
	}))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
	}
	return dir
}

func TestScanner_ListsEntries(t *testing.T) {
	root := t.TempDir()
	dir := writeEntry(t, root, "Clip", "Clip.mp4", "Clip-poster.jpg", "Clip.ja.ass", "Clip.zh-Hans.srt", "Clip.srt", "notes.txt")

	lib, err := NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, lib.Entries, 1)
	e := lib.Entries[0]
	assert.Equal(t, "Clip", e.Stem)
	assert.Equal(t, dir, e.Dir)
	assert.Equal(t, "Clip", e.Title)
	assert.Equal(t, "2024-08-06", e.Premiered)
	assert.Equal(t, "Channel", e.Director)
	assert.Equal(t, []string{"music"}, e.Tags)
	assert.Equal(t, "Clip.mp4", e.VideoFile)
	assert.Equal(t, int64(4), e.VideoSize)
	assert.Equal(t, "4 B", e.Size)
	assert.True(t, e.HasPoster)
	assert.Equal(t, []subtitle.Track{
		{Language: "ja", Format: "ass", Path: filepath.Join(dir, "Clip.ja.ass")},
		{Language: "", Format: "srt", Path: filepath.Join(dir, "Clip.srt")},
		{Language: "zh-Hans", Format: "srt", Path: filepath.Join(dir, "Clip.zh-Hans.srt")},
	}, e.Subtitles)
	assert.Equal(t, []string{"ja", "zh-Hans"}, e.Languages)
	assert.Equal(t, "4 B", lib.TotalSize)
}

func TestScanner_EntryWithoutVideo(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "Pending")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "loose.nfo"), []byte("<movie/>"), 0o644))

	lib, err := NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, lib.Entries, 1)
	assert.Empty(t, lib.Entries[0].VideoFile)
	assert.False(t, lib.Entries[0].HasPoster)
	assert.Empty(t, lib.Entries[0].Subtitles)
	assert.NotNil(t, lib.Entries[0].Subtitles)
}

func TestScanner_BrokenNFOFallsBackToStem(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.nfo"), []byte("not xml"), 0o644))

	lib, err := NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, lib.Entries, 1)
	assert.Equal(t, "Broken", lib.Entries[0].Title)
}

func TestScanner_MissingRoot(t *testing.T) {
	lib, err := NewScanner().Scan(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, lib.Entries)
}

func TestScanner_NewestFirst(t *testing.T) {
	root := t.TempDir()
	oldDir := writeEntry(t, root, "Old", "Old.mkv")
	writeEntry(t, root, "New", "New.mp4")

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(oldDir, "Old.nfo"), past, past))
	require.NoError(t, os.Chtimes(filepath.Join(oldDir, "Old.mkv"), past, past))

	lib, err := NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, lib.Entries, 2)
	assert.Equal(t, "New", lib.Entries[0].Stem)
	assert.Equal(t, "Old", lib.Entries[1].Stem)
	assert.Equal(t, "Old.mkv", lib.Entries[1].VideoFile)
	assert.Equal(t, "2 days ago", lib.Entries[1].Age)
	assert.Equal(t, "8 B", lib.TotalSize)
}

func TestScanner_CacheAndInvalidate(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "First")

	scanner := NewScanner(WithCacheTTL(time.Hour))
	lib, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, lib.Entries, 1)

	writeEntry(t, root, "Second")
	lib, err = scanner.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, lib.Entries, 1)

	scanner.Invalidate()
	lib, err = scanner.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, lib.Entries, 2)
}

func TestScanner_ContextCanceled(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "Clip")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner().Scan(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
