package extractor

import (
	"os"
	"os/exec"
	"strings"
)

// DependencyReport describes the external binaries the extractor relies on.
type DependencyReport struct {
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
	PythonFound bool   `json:"python_found"`
	PythonPath  string `json:"python_path,omitempty"`
}

// LookupFFmpeg prefers an explicitly configured binary and falls back to PATH.
// Merging separate video and audio streams needs it.
func LookupFFmpeg(configured string) (string, bool) {
	if p := strings.TrimSpace(configured); p != "" {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, true
	}
	return "", false
}

func DependencyStatus(python, ffmpeg string) DependencyReport {
	report := DependencyReport{}
	report.FFmpegPath, report.FFmpegFound = LookupFFmpeg(ffmpeg)
	if p, err := exec.LookPath(python); err == nil {
		report.PythonFound = true
		report.PythonPath = p
	}
	return report
}

// ResolveCookiePath expands environment variables and strips the quotes that
// shells and file pickers leave around pasted paths.
func ResolveCookiePath(raw string) (string, error) {
	p := strings.Trim(strings.TrimSpace(raw), `"'`)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}
