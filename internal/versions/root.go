package versions

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
)

// PackageDirName is the import name of the extractor package inside an installation.
const PackageDirName = "yt_dlp"

var versionPattern = regexp.MustCompile(`(?m)^__version__\s*=\s*['"]([^'"]+)['"]`)

// LooksLikePackageRoot reports whether dir holds the extractor package: an entry
// module, a version module and the extractor sub package.
func LooksLikePackageRoot(dir string) bool {
	return isFile(filepath.Join(dir, "__init__.py")) &&
		isFile(filepath.Join(dir, "version.py")) &&
		isDir(filepath.Join(dir, "extractor"))
}

// FindPackageRoot searches tree breadth first and returns the shallowest
// directory accepted by LooksLikePackageRoot. Siblings are visited in name order.
func FindPackageRoot(tree string) (string, error) {
	queue := []string{tree}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		if LooksLikePackageRoot(dir) {
			return dir, nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			// DirEntry.IsDir is false for symlinks, so links are never followed.
			if entry.IsDir() {
				queue = append(queue, filepath.Join(dir, entry.Name()))
			}
		}
	}
	return "", apperr.Newf(apperr.ErrMalformedRelease, "no %s package found in release archive", PackageDirName)
}

// ReadVersion extracts __version__ from the package's version module.
func ReadVersion(packageDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(packageDir, "version.py"))
	if err != nil {
		return "", err
	}
	m := versionPattern.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no __version__ in %s", filepath.Join(packageDir, "version.py"))
	}
	return string(m[1]), nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
