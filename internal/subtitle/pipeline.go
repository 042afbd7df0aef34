package subtitle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/extractor"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/media"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

var (
	DefaultLanguages = []string{"ja", "zh-Hans", "zh-Hant"}
	DefaultFormats   = []string{FormatASS, FormatSRT, FormatVTT}
)

// Downloader asks the extraction backend to write caption files.
type Downloader interface {
	DownloadSubtitles(ctx context.Context, info *media.VideoInfo, outputDir string, opts extractor.SubtitleOptions) ([]string, error)
}

type PipelineConfig struct {
	// Languages in preference order.
	Languages []string
	// Formats in preference order; the backend picks the first it can supply.
	Formats []string
	// DetectLanguage recovers a missing language code from the cue text.
	DetectLanguage bool
}

type Pipeline struct {
	cfg PipelineConfig
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	return &Pipeline{cfg: cfg}
}

// Acquire downloads caption tracks for info into outputDir, converts WebVTT
// tracks to ASS and renames every retained track to <stem>[.<lang>].<ext>.
// Finding no tracks is not an error.
func (p *Pipeline) Acquire(ctx context.Context, d Downloader, info *media.VideoInfo, outputDir string, opts extractor.Options) ([]Track, error) {
	stem := info.Stem()

	downloaded, err := d.DownloadSubtitles(ctx, info, outputDir, extractor.SubtitleOptions{
		Options:   opts,
		Languages: p.cfg.Languages,
		Formats:   p.cfg.Formats,
	})
	if err != nil {
		if apperr.IsType(err, apperr.ErrSubtitleFailed) {
			return nil, err
		}
		return nil, apperr.Wrap(err, apperr.ErrSubtitleFailed, "subtitle download failed")
	}

	found, err := Scan(outputDir, stem)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrSubtitleFailed, "scan subtitle files")
	}
	found = withReported(found, downloaded)
	if len(found) == 0 {
		log.Info("No subtitles found for %q", stem)
		return []Track{}, nil
	}

	tracks := make([]Track, 0, len(found))
	var errs []error
	for _, raw := range found {
		track, err := p.normalize(outputDir, stem, raw)
		if err != nil {
			log.Warn("Dropping subtitle %s: %v", raw.Path, err)
			errs = append(errs, err)
			continue
		}
		log.Info("Subtitle saved as: %s", filepath.Base(track.Path))
		tracks = append(tracks, track)
	}
	if len(errs) > 0 {
		return tracks, apperr.Wrap(errors.Join(errs...), apperr.ErrSubtitleFailed, "subtitle conversion failed")
	}
	return tracks, nil
}

func (p *Pipeline) normalize(outputDir, stem string, raw Track) (Track, error) {
	track := raw
	var cues []Line

	if raw.Format == FormatVTT {
		assPath := file.ReplaceExt(raw.Path, FormatASS)
		converted, err := ConvertVTTToASS(raw.Path, assPath)
		// A WebVTT file is never left behind, converted or not.
		if rmErr := os.Remove(raw.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("Failed to remove %s: %v", raw.Path, rmErr)
		}
		if err != nil {
			return Track{}, fmt.Errorf("convert %s: %w", filepath.Base(raw.Path), err)
		}
		track.Path = assPath
		track.Format = FormatASS
		track.Converted = true
		cues = converted.Lines
	}

	track.Language = NormalizeLanguage(track.Language)
	if track.Language == "" && p.cfg.DetectLanguage {
		if cues == nil {
			if sub, err := NewReader(track.Path).Read(); err == nil {
				cues = sub.Lines
			}
		}
		if code, ok := DetectLanguage(cues); ok {
			log.Info("Detected language %s for %s", code, filepath.Base(track.Path))
			track.Language = code
		}
	}

	target := filepath.Join(outputDir, TrackName(stem, track.Language, track.Format))
	if target != track.Path && file.Exists(target) {
		log.Warn("Keeping %s: %s already exists", filepath.Base(track.Path), filepath.Base(target))
		return track, nil
	}
	if target != track.Path {
		if err := os.Rename(track.Path, target); err != nil {
			return Track{}, fmt.Errorf("rename %s: %w", filepath.Base(track.Path), err)
		}
		track.Path = target
	}
	return track, nil
}

// TrackName is the retained file name of a track.
func TrackName(stem, lang, format string) string {
	if lang == "" {
		return stem + "." + format
	}
	return stem + "." + lang + "." + format
}

// Scan lists caption files named <stem>.<ext> or <stem>.<lang>.<ext> in dir,
// sorted by name. Language is taken from the file name when present. Any other
// <stem>.*.vtt file is listed without a language so it still gets converted.
func Scan(dir, stem string) ([]Track, error) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `(?:\.([a-zA-Z0-9_\-]+))?\.(ass|srt|vtt)$`)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var ret []Track
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		if m := pattern.FindStringSubmatch(name); m != nil {
			ret = append(ret, Track{Language: m[1], Format: m[2], Path: path})
			continue
		}
		if strings.HasPrefix(name, stem+".") && strings.HasSuffix(name, "."+FormatVTT) {
			ret = append(ret, Track{Format: FormatVTT, Path: path})
		}
	}
	return ret, nil
}

// withReported adds WebVTT files the backend reported that the directory scan
// did not pick up.
func withReported(found []Track, reported []string) []Track {
	seen := make(map[string]bool, len(found))
	for _, t := range found {
		seen[t.Path] = true
	}
	for _, path := range reported {
		if seen[path] || !strings.EqualFold(filepath.Ext(path), "."+FormatVTT) || !file.Exists(path) {
			continue
		}
		seen[path] = true
		found = append(found, Track{Format: FormatVTT, Path: path})
	}
	return found
}
