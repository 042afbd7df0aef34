package library

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/subtitle"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

type scannerOptions struct {
	cacheTTL time.Duration
	now      func() time.Time
}

type Option func(*scannerOptions)

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *scannerOptions) {
		o.cacheTTL = ttl
	}
}

type scanCache struct {
	version uint64
	scanned time.Time
	library *Library
}

// Scanner lists the job output directories under an output root.
type Scanner struct {
	now func() time.Time

	mu       sync.RWMutex
	cacheTTL time.Duration
	cache    map[string]*scanCache
	version  uint64
}

func NewScanner(opts ...Option) *Scanner {
	options := scannerOptions{
		cacheTTL: 5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Scanner{
		now:      options.now,
		cacheTTL: options.cacheTTL,
		cache:    make(map[string]*scanCache),
	}
}

// Invalidate drops cached results, e.g. after a job completed.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]*scanCache)
	s.version++
	s.mu.Unlock()
}

// Scan lists every <root>/<dir>/<stem>.nfo entry, newest first. A missing
// root yields an empty library.
func (s *Scanner) Scan(ctx context.Context, root string) (*Library, error) {
	root = filepath.Clean(root)

	s.mu.RLock()
	version := s.version
	if c, ok := s.cache[root]; ok && c.version == version && (s.cacheTTL <= 0 || s.now().Sub(c.scanned) < s.cacheTTL) {
		cached := cloneLibrary(c.library)
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	ret := &Library{Root: root, Entries: make([]Entry, 0)}

	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			ret.TotalSize = humanize.Bytes(0)
			return ret, nil
		}
		return nil, err
	}

	var total uint64
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entries, err := s.scanDir(filepath.Join(root, d.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			total += uint64(e.VideoSize)
		}
		ret.Entries = append(ret.Entries, entries...)
	}

	sort.SliceStable(ret.Entries, func(i, j int) bool {
		return ret.Entries[i].ModifiedAt.After(ret.Entries[j].ModifiedAt)
	})
	ret.TotalSize = humanize.Bytes(total)

	s.mu.Lock()
	if s.version == version {
		s.cache[root] = &scanCache{version: version, scanned: s.now(), library: cloneLibrary(ret)}
	}
	s.mu.Unlock()

	return ret, nil
}

func (s *Scanner) scanDir(dir string) ([]Entry, error) {
	nfos, err := file.FindByStem(dir, "", "nfo")
	if err != nil {
		return nil, err
	}

	ret := make([]Entry, 0, len(nfos))
	for _, nfoPath := range nfos {
		stem := file.TrimExt(filepath.Base(nfoPath))
		entry := Entry{
			Stem:      stem,
			Dir:       dir,
			Title:     stem,
			HasPoster: file.Exists(filepath.Join(dir, media.PosterName(stem))),
			Languages: make([]string, 0),
		}

		if movie, err := media.ReadNFO(nfoPath); err != nil {
			log.Warn("Skipping metadata of %s: %v", nfoPath, err)
		} else {
			if movie.Title != "" {
				entry.Title = movie.Title
			}
			entry.Premiered = movie.Premiered
			entry.Year = movie.Year
			entry.Director = movie.Director
			entry.Tags = movie.Tags
		}

		if info, err := os.Stat(nfoPath); err == nil {
			entry.ModifiedAt = info.ModTime()
		}
		if video, info := findVideo(dir, stem); video != "" {
			entry.VideoFile = filepath.Base(video)
			entry.VideoSize = info.Size()
			if info.ModTime().After(entry.ModifiedAt) {
				entry.ModifiedAt = info.ModTime()
			}
		}
		entry.Size = humanize.Bytes(uint64(entry.VideoSize))
		entry.Age = humanize.RelTime(entry.ModifiedAt, s.now(), "ago", "from now")

		tracks, err := subtitle.Scan(dir, stem)
		if err != nil {
			return nil, err
		}
		if tracks == nil {
			tracks = []subtitle.Track{}
		}
		entry.Subtitles = tracks
		seen := make(map[string]bool)
		for _, t := range tracks {
			if t.Language != "" && !seen[t.Language] {
				seen[t.Language] = true
				entry.Languages = append(entry.Languages, t.Language)
			}
		}

		ret = append(ret, entry)
	}
	return ret, nil
}

// findVideo prefers <stem>.<container> over other files sharing the stem.
func findVideo(dir, stem string) (string, os.FileInfo) {
	for _, c := range []media.Container{media.ContainerMP4, media.ContainerMKV} {
		path := filepath.Join(dir, stem+"."+string(c))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, info
		}
	}
	found, err := file.FindByStem(dir, stem, string(media.ContainerMP4), string(media.ContainerMKV))
	if err != nil || len(found) == 0 {
		return "", nil
	}
	info, err := os.Stat(found[0])
	if err != nil {
		return "", nil
	}
	return found[0], info
}

func cloneLibrary(src *Library) *Library {
	if src == nil {
		return nil
	}
	dst := &Library{
		Root:      src.Root,
		Entries:   make([]Entry, len(src.Entries)),
		TotalSize: src.TotalSize,
	}
	copy(dst.Entries, src.Entries)
	for i := range dst.Entries {
		dst.Entries[i].Tags = append([]string(nil), src.Entries[i].Tags...)
		dst.Entries[i].Subtitles = append([]subtitle.Track{}, src.Entries[i].Subtitles...)
		dst.Entries[i].Languages = append([]string{}, src.Entries[i].Languages...)
	}
	return dst
}
