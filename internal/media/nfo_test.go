package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo() *VideoInfo {
	tags := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		tags = append(tags, fmt.Sprintf("tag%d", i))
	}
	return &VideoInfo{
		ID:          "abc123",
		Title:       "Tom & Jerry <Live>",
		Description: "line one\nline two",
		Uploader:    "Some Channel",
		PublishDate: "2024-08-06",
		Year:        "2024",
		Tags:        tags,
	}
}

func TestNewMovie_CapsTags(t *testing.T) {
	m := NewMovie(sampleInfo())
	assert.Len(t, m.Tags, 10)
	assert.Equal(t, "tag10", m.Tags[9])
	assert.Equal(t, "YouTube", m.Studio)
	assert.Equal(t, "Some Channel", m.Director)
}

func TestMarshalNFO(t *testing.T) {
	info := sampleInfo()
	info.Uploader = ""
	info.Tags = []string{"music"}

	data, err := MarshalNFO(NewMovie(info))
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, "<title>Tom &amp; Jerry &lt;Live&gt;</title>")
	assert.Contains(t, out, "<premiered>2024-08-06</premiered>")
	assert.Contains(t, out, "<year>2024</year>")
	assert.Contains(t, out, "<studio>YouTube</studio>")
	assert.Contains(t, out, "<tag>music</tag>")
	assert.NotContains(t, out, "<director>")
}

func TestWriteAndReadNFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Clip.nfo")
	require.NoError(t, WriteNFO(path, sampleInfo()))

	m, err := ReadNFO(path)
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry <Live>", m.Title)
	assert.Equal(t, "line one\nline two", m.Plot)
	assert.Equal(t, "2024", m.Year)
	assert.Len(t, m.Tags, 10)
}

func TestReadNFO_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadNFO(filepath.Join(dir, "x.xml"))
	require.Error(t, err)

	_, err = ReadNFO(filepath.Join(dir, "missing.nfo"))
	require.Error(t, err)

	show := filepath.Join(dir, "show.nfo")
	require.NoError(t, os.WriteFile(show, []byte("<tvshow><title>x</title></tvshow>"), 0o644))
	_, err = ReadNFO(show)
	require.Error(t, err)
}
