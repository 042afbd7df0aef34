package subtitle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestDetectLanguage(t *testing.T) {
	lines := []Line{
		{
			Text: "Hello, world!",
		},
		{
			Text: "こんにちは、世界!",
		},
		{
			Text: "こんにちは、世界!",
		},

		{
			Text: "Привет, мир!",
		},
	}
	lang := detectLanguage(lines)
	if lang != language.Japanese {
		t.Errorf("expected ja, got %s", lang)
	}
}

func TestDetectLanguage_Reliable(t *testing.T) {
	code, ok := DetectLanguage([]Line{
		{Text: "こんにちは、おげんきですか。"},
		{Text: "ありがとうございます。またあした。"},
	})
	require.True(t, ok)
	assert.Equal(t, "ja", code)

	_, ok = DetectLanguage(nil)
	assert.False(t, ok)
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"ja":      "ja",
		"zh-hans": "zh-Hans",
		"zh-Hant": "zh-Hant",
		"":        "",
		"  en  ":  "en",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeLanguage(in), in)
	}
}

func TestReadSRTBytes(t *testing.T) {
	data := []byte("1\n00:00:01,000 --> 00:00:02,000\nHello\n\n2\n00:00:03,000 --> 00:00:04,000\nWorld\n")

	file, err := ReadSRTBytes(data, "embedded://sample")
	require.NoError(t, err)
	require.Len(t, file.Lines, 2)
	assert.Equal(t, "Hello", file.Lines[0].Text)
	assert.Equal(t, "World", file.Lines[1].Text)
	assert.Equal(t, 3*time.Second, file.Lines[1].StartTime)
	assert.Equal(t, "SRT", file.Format)
	assert.Equal(t, "embedded://sample", file.Path)
}

func TestReadVTTBytes(t *testing.T) {
	data := []byte("WEBVTT\nKind: captions\nLanguage: ja\n\n" +
		"NOTE this is a comment\n\n" +
		"STYLE\n::cue { color: white }\n\n" +
		"cue-1\n00:00:01.000 --> 00:00:02.500 align:start position:0%\n<c.colorE5E5E5>first</c>\nline &amp; more\n\n" +
		"01:02.250 --> 01:03.000\nshort<00:01:02.500><c> form</c>\n\n" +
		"00:00:05.000 --> 00:00:06.000\n\n")

	file, err := ReadVTTBytes(data, "a.vtt")
	require.NoError(t, err)
	require.Len(t, file.Lines, 2)

	assert.Equal(t, Line{Index: 1, StartTime: time.Second, EndTime: 2500 * time.Millisecond, Text: "first\nline & more"}, file.Lines[0])
	assert.Equal(t, time.Minute+2250*time.Millisecond, file.Lines[1].StartTime)
	assert.Equal(t, "short form", file.Lines[1].Text)
	assert.Equal(t, "VTT", file.Format)
}

func TestReadVTTBytes_MissingHeader(t *testing.T) {
	_, err := ReadVTTBytes([]byte("00:00:01.000 --> 00:00:02.000\nhi\n"), "bad.vtt")
	require.Error(t, err)
}

func TestReadASSBytes(t *testing.T) {
	data := []byte(assHeader +
		"Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,{\\i1}a{\\i0}\\Nb, with comma\n" +
		"Comment: 0,0:00:03.00,0:00:04.00,Default,,0,0,0,,ignored\n")

	file, err := ReadASSBytes(data, "a.ass")
	require.NoError(t, err)
	require.Len(t, file.Lines, 1)
	assert.Equal(t, "a\nb, with comma", file.Lines[0].Text)
	assert.Equal(t, 2500*time.Millisecond, file.Lines[0].EndTime)
}

func TestDefaultReader_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.srt")
	require.NoError(t, os.WriteFile(path, []byte("1\n00:00:01,000 --> 00:00:02,000\nHi\n"), 0o644))

	file, err := NewReader(path).Read()
	require.NoError(t, err)
	assert.Len(t, file.Lines, 1)

	_, err = NewReader(filepath.Join(dir, "missing.srt")).Read()
	require.Error(t, err)

	other := filepath.Join(dir, "x.sub")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	_, err = NewReader(other).Read()
	require.Error(t, err)
}
