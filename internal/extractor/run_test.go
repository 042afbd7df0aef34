package extractor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestExecRunner_ResultStdoutIsNotForwarded(t *testing.T) {
	payload := `{"id":"abc123","title":"Clip","description":"` + strings.Repeat("x", 5000) + `"}`
	var got lineCollector

	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name:           "sh",
		Args:           []string{"-c", "echo 'WARNING: slow' >&2; printf '%s\\n' '" + payload + "'"},
		OnLine:         got.add,
		StdoutIsResult: true,
	})
	require.NoError(t, err)

	info, err := ParseInfo(out, "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, "Clip", info.Title)
	assert.Equal(t, []string{"WARNING: slow"}, got.all())
}

func TestExecRunner_ForwardsProgressFromStdout(t *testing.T) {
	var got lineCollector

	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo '[download]  50.0%'; echo '[download] 100%'"},
		OnLine: got.add,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"[download]  50.0%", "[download] 100%"}, got.all())
}

func TestExecRunner_FailureReportsErrorLine(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo 'ERROR: Video unavailable' >&2; echo 'done' >&2; exit 1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR: Video unavailable")
}
