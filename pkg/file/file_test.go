package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path string
		ext  string
		want string
	}{
		{path: "/out/Video.ja.vtt", ext: ".ass", want: "/out/Video.ja.ass"},
		{path: "/out/Video.vtt", ext: "ass", want: "/out/Video.ass"},
		{path: "/out/noext", ext: ".nfo", want: "/out/noext.nfo"},
		{path: "", ext: ".ass", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.path, tt.ext), tt.path)
	}
}

func TestTrimExt(t *testing.T) {
	assert.Equal(t, "Mr. Smith", TrimExt("Mr. Smith.mp4"))
	assert.Equal(t, ".hidden", TrimExt(".hidden"))
	assert.Equal(t, "plain", TrimExt("plain"))
}

func TestFindByStem(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Clip.mp4", "Clip.f137.mp4.part", "Clip.nfo", "Other.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Clip.dir.mp4"), 0o755))

	found, err := FindByStem(dir, "Clip", "mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "Clip.mp4")}, found)

	all, err := FindByStem(dir, "Clip")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := map[string]string{"tag": "2024.08.06"}

	require.NoError(t, WriteJSONAtomic(path, in))

	var out map[string]string
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
