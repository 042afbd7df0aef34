package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the last extension of path for ext. A leading dot on ext is optional.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(filepath.Dir(path), TrimExt(filepath.Base(path))+ext)
}

// TrimExt drops the last extension of name. Dot files keep their name.
func TrimExt(name string) string {
	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name
	}
	return name[:lastDot]
}

// Ext returns the lower-cased extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
