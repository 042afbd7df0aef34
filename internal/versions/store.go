package versions

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

const (
	ChannelStable  = "stable"
	ChannelNightly = "nightly"
	ChannelMaster  = "master"

	currentFile = "current.json"
	scratchDir  = ".tmp"
	stagingGlob = ".staging-"
)

var (
	channelNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	unsafeDirChars     = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Installation is one channel's active copy of the extractor package.
type Installation struct {
	Channel     string    `json:"channel"`
	Tag         string    `json:"tag"`
	Version     string    `json:"version"`
	Dir         string    `json:"dir"`
	InstalledAt time.Time `json:"installed_at"`
}

// PackageDir is the importable package directory inside the installation.
func (i Installation) PackageDir() string {
	return filepath.Join(i.Dir, PackageDirName)
}

type currentRecord struct {
	Tag         string    `json:"tag"`
	Version     string    `json:"version"`
	Dir         string    `json:"dir"`
	InstalledAt time.Time `json:"installed_at"`
}

// Store manages channel directories under a versions root:
//
//	<root>/<channel>/current.json
//	<root>/<channel>/<release dir>/yt_dlp/...
//
// Installation directories are immutable once staged. Installing swaps the
// current.json pointer and retires the previous directory, which is removed as
// soon as no lease holds it.
type Store struct {
	root string

	installMu sync.Mutex

	mu      sync.Mutex
	leases  map[string]int
	retired map[string]bool
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("versions root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve versions root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create versions root: %w", err)
	}
	return &Store{
		root:    abs,
		leases:  make(map[string]int),
		retired: make(map[string]bool),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// ValidateChannel rejects names that cannot be used as a channel directory.
func ValidateChannel(channel string) error {
	if !channelNamePattern.MatchString(channel) {
		return apperr.Newf(apperr.ErrInvalidInput, "invalid channel name %q", channel)
	}
	return nil
}

func (s *Store) channelDir(channel string) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	return filepath.Join(s.root, channel), nil
}

// Channels lists the channels that have a directory in the store, installed or not.
func (s *Store) Channels() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && channelNamePattern.MatchString(entry.Name()) {
			ret = append(ret, entry.Name())
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// Installation returns the channel's active installation or an
// ErrChannelNotInstalled error when it is missing or incomplete.
func (s *Store) Installation(channel string) (Installation, error) {
	dir, err := s.channelDir(channel)
	if err != nil {
		return Installation{}, err
	}

	var rec currentRecord
	if err := file.ReadJSON(filepath.Join(dir, currentFile), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Installation{}, apperr.Newf(apperr.ErrChannelNotInstalled, "channel %q is not installed", channel)
		}
		return Installation{}, apperr.Wrap(err, apperr.ErrChannelNotInstalled, fmt.Sprintf("channel %q has an unreadable install record", channel))
	}

	inst := Installation{
		Channel:     channel,
		Tag:         rec.Tag,
		Version:     rec.Version,
		Dir:         filepath.Join(dir, rec.Dir),
		InstalledAt: rec.InstalledAt,
	}
	if rec.Dir == "" || !LooksLikePackageRoot(inst.PackageDir()) {
		return Installation{}, apperr.Newf(apperr.ErrChannelNotInstalled, "channel %q installation is incomplete", channel)
	}
	if v, err := ReadVersion(inst.PackageDir()); err == nil {
		inst.Version = v
	}
	return inst, nil
}

// InstalledTag returns the recorded release tag for channel.
func (s *Store) InstalledTag(channel string) (string, bool) {
	inst, err := s.Installation(channel)
	if err != nil {
		return "", false
	}
	return inst.Tag, true
}

// Acquire returns the active installation and leases its directory until the
// returned release func is called.
func (s *Store) Acquire(channel string) (Installation, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.Installation(channel)
	if err != nil {
		return Installation{}, nil, err
	}
	s.leases[inst.Dir]++

	var once sync.Once
	release := func() {
		once.Do(func() { s.release(inst.Dir) })
	}
	return inst, release, nil
}

func (s *Store) release(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases[dir]--
	if s.leases[dir] > 0 {
		return
	}
	delete(s.leases, dir)
	if s.retired[dir] {
		delete(s.retired, dir)
		removeDir(dir)
	}
}

// ScratchDir creates a working directory on the same filesystem as the store
// so staged packages can be moved in with a rename.
func (s *Store) ScratchDir(prefix string) (string, error) {
	base := filepath.Join(s.root, scratchDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, prefix)
}

// Install makes packageRoot the channel's active installation for tag. It
// returns installed=false when tag is already the active release. The
// previous installation stays in place until the new one is fully staged.
func (s *Store) Install(channel, tag, packageRoot string) (Installation, bool, error) {
	chDir, err := s.channelDir(channel)
	if err != nil {
		return Installation{}, false, err
	}
	if strings.TrimSpace(tag) == "" {
		return Installation{}, false, apperr.New(apperr.ErrMalformedRelease, "release tag is empty")
	}
	if !LooksLikePackageRoot(packageRoot) {
		return Installation{}, false, apperr.Newf(apperr.ErrMalformedRelease, "%s is not a %s package", packageRoot, PackageDirName)
	}

	s.installMu.Lock()
	defer s.installMu.Unlock()

	previous, prevErr := s.Installation(channel)
	if prevErr == nil && previous.Tag == tag {
		return previous, false, nil
	}

	if err := os.MkdirAll(chDir, 0o755); err != nil {
		return Installation{}, false, fmt.Errorf("create channel dir: %w", err)
	}
	staging, err := os.MkdirTemp(chDir, stagingGlob+"*")
	if err != nil {
		return Installation{}, false, fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			removeDir(staging)
		}
	}()

	stagedPkg := filepath.Join(staging, PackageDirName)
	if err := moveTree(packageRoot, stagedPkg); err != nil {
		return Installation{}, false, fmt.Errorf("stage package: %w", err)
	}
	version, err := ReadVersion(stagedPkg)
	if err != nil {
		log.Warn("Channel %s: %v, using tag %s as version", channel, err, tag)
		version = tag
	}

	dirName := s.freeDirName(chDir, tag)
	final := filepath.Join(chDir, dirName)
	if err := os.Rename(staging, final); err != nil {
		return Installation{}, false, fmt.Errorf("commit staging dir: %w", err)
	}
	committed = true

	rec := currentRecord{
		Tag:         tag,
		Version:     version,
		Dir:         dirName,
		InstalledAt: time.Now().UTC(),
	}
	if err := file.WriteJSONAtomic(filepath.Join(chDir, currentFile), rec); err != nil {
		removeDir(final)
		return Installation{}, false, fmt.Errorf("record installation: %w", err)
	}

	if prevErr == nil && previous.Dir != final {
		s.retire(previous.Dir)
	}
	s.pruneStale(chDir, final)

	return Installation{
		Channel:     channel,
		Tag:         tag,
		Version:     version,
		Dir:         final,
		InstalledAt: rec.InstalledAt,
	}, true, nil
}

func (s *Store) freeDirName(chDir, tag string) string {
	base := "release-" + strings.Trim(unsafeDirChars.ReplaceAllString(tag, "_"), "._")
	name := base
	for i := 2; file.Exists(filepath.Join(chDir, name)); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}

func (s *Store) retire(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[dir] > 0 {
		s.retired[dir] = true
		log.Info("Keeping %s until in-flight jobs release it", dir)
		return
	}
	removeDir(dir)
}

// pruneStale removes leftovers of interrupted installs: staging dirs and
// unleased release dirs other than keep.
func (s *Store) pruneStale(chDir, keep string) {
	entries, err := os.ReadDir(chDir)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(chDir, entry.Name())
		if path == keep || s.leases[path] > 0 {
			continue
		}
		removeDir(path)
	}
}

func removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("Failed to remove %s: %v", dir, err)
	}
}

// moveTree renames src to dst, copying when they live on different filesystems.
func moveTree(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyTree(src, dst)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
