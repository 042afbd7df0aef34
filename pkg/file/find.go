package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindByStem lists the regular files directly inside dir whose name starts with
// stem and whose extension is one of exts. Results are sorted by name.
func FindByStem(dir, stem string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		wanted[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	var found []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stem) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[Ext(entry.Name())]; !ok {
				continue
			}
		}
		found = append(found, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(found)
	return found, nil
}

// Exists reports whether path exists, regardless of its type.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
