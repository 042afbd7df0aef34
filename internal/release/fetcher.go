package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPyPIURL      = "https://pypi.org"
	DefaultGitHubAPIURL = "https://api.github.com"

	userAgent = "youtube-to-emby-release-fetcher"
)

type SourceKind string

const (
	SourcePyPI   SourceKind = "pypi"
	SourceGitHub SourceKind = "github"
)

// Source tells the fetcher where a channel's releases are published.
type Source struct {
	Kind SourceKind `json:"kind"`
	// Name is the PyPI project or the GitHub "owner/repo".
	Name string `json:"name"`
}

func DefaultSources() map[string]Source {
	return map[string]Source{
		versions.ChannelStable:  {Kind: SourcePyPI, Name: "yt-dlp"},
		versions.ChannelNightly: {Kind: SourceGitHub, Name: "yt-dlp/yt-dlp-nightly-builds"},
		versions.ChannelMaster:  {Kind: SourceGitHub, Name: "yt-dlp/yt-dlp-master-builds"},
	}
}

// Release is the newest published build of a channel.
type Release struct {
	Channel     string    `json:"channel"`
	Tag         string    `json:"tag"`
	ArchiveURL  string    `json:"archive_url"`
	ArchiveName string    `json:"archive_name"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// InstallRecord is one successful installation, kept for history.
type InstallRecord struct {
	Channel     string    `json:"channel"`
	Tag         string    `json:"tag"`
	Version     string    `json:"version"`
	ArchiveURL  string    `json:"archive_url"`
	InstalledAt time.Time `json:"installed_at"`
}

type History interface {
	RecordInstall(ctx context.Context, rec InstallRecord) error
}

// Invalidator drops cached channel bindings after an install.
type Invalidator interface {
	Invalidate(channel string)
}

// Logf receives operator facing progress messages.
type Logf func(format string, args ...any)

type Fetcher struct {
	store *versions.Store

	apiClient      *http.Client
	downloadClient *http.Client
	pypiURL        string
	githubURL      string
	githubToken    string
	sources        map[string]Source

	invalidator Invalidator
	history     History

	group    singleflight.Group
	watchers logFanout
}

type Option func(*Fetcher)

func WithHTTPClients(api, download *http.Client) Option {
	return func(f *Fetcher) {
		if api != nil {
			f.apiClient = api
		}
		if download != nil {
			f.downloadClient = download
		}
	}
}

func WithEndpoints(pypiURL, githubURL string) Option {
	return func(f *Fetcher) {
		if pypiURL != "" {
			f.pypiURL = strings.TrimRight(pypiURL, "/")
		}
		if githubURL != "" {
			f.githubURL = strings.TrimRight(githubURL, "/")
		}
	}
}

func WithGitHubToken(token string) Option {
	return func(f *Fetcher) {
		f.githubToken = strings.TrimSpace(token)
	}
}

func WithSources(sources map[string]Source) Option {
	return func(f *Fetcher) {
		for channel, src := range sources {
			f.sources[channel] = src
		}
	}
}

func WithInvalidator(inv Invalidator) Option {
	return func(f *Fetcher) {
		f.invalidator = inv
	}
}

func WithHistory(h History) Option {
	return func(f *Fetcher) {
		f.history = h
	}
}

func NewFetcher(store *versions.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:          store,
		apiClient:      &http.Client{Timeout: 30 * time.Second},
		downloadClient: &http.Client{Timeout: 2 * time.Minute},
		pypiURL:        DefaultPyPIURL,
		githubURL:      DefaultGitHubAPIURL,
		sources:        DefaultSources(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Channels lists the channels the fetcher knows a source for.
func (f *Fetcher) Channels() []string {
	ret := make([]string, 0, len(f.sources))
	for channel := range f.sources {
		ret = append(ret, channel)
	}
	sort.Strings(ret)
	return ret
}

// Latest queries the channel's release feed.
func (f *Fetcher) Latest(ctx context.Context, channel string) (Release, error) {
	src, ok := f.sources[channel]
	if !ok {
		return Release{}, apperr.Newf(apperr.ErrInvalidInput, "no release source for channel %q", channel)
	}
	var (
		rel Release
		err error
	)
	switch src.Kind {
	case SourcePyPI:
		rel, err = f.latestPyPI(ctx, src.Name)
	case SourceGitHub:
		rel, err = f.latestGitHub(ctx, src.Name)
	default:
		return Release{}, apperr.Newf(apperr.ErrInvalidInput, "unknown source kind %q", src.Kind)
	}
	if err != nil {
		return Release{}, err
	}
	rel.Channel = channel
	return rel, nil
}

// Install brings channel to its latest release. Failures are reported through
// logf and the return value only.
func (f *Fetcher) Install(ctx context.Context, channel string, logf Logf) bool {
	inst, installed, err := f.installShared(ctx, channel, logf)
	logf = orDefault(logf)
	if err != nil {
		switch {
		case apperr.IsType(err, apperr.ErrRateLimited):
			logf("Update of %s skipped: %v", channel, err)
		default:
			logf("Update of %s failed: %v", channel, err)
		}
		return false
	}
	if installed {
		logf("Channel %s now runs yt-dlp %s", channel, inst.Version)
	} else {
		logf("Channel %s is already up to date (%s)", channel, inst.Version)
	}
	return true
}

type installResult struct {
	inst      versions.Installation
	installed bool
}

// InstallRelease is Install with typed errors. Concurrent calls for the same
// channel share one download, and every caller's logf receives the progress
// lines logged after it joined.
func (f *Fetcher) InstallRelease(ctx context.Context, channel string, logf Logf) (versions.Installation, bool, error) {
	return f.installShared(ctx, channel, logf)
}

func (f *Fetcher) installShared(ctx context.Context, channel string, logf Logf) (versions.Installation, bool, error) {
	if err := versions.ValidateChannel(channel); err != nil {
		return versions.Installation{}, false, err
	}

	leave := f.watchers.join(channel, logf)
	defer leave()
	v, err, shared := f.group.Do(channel, func() (any, error) {
		inst, installed, err := f.install(ctx, channel, f.watchers.logf(channel))
		return installResult{inst: inst, installed: installed}, err
	})
	if shared {
		log.Debug("Install of %s joined an in-flight install", channel)
	}
	if err != nil {
		return versions.Installation{}, false, err
	}
	res := v.(installResult)
	return res.inst, res.installed, nil
}

func (f *Fetcher) install(ctx context.Context, channel string, logf Logf) (versions.Installation, bool, error) {
	logf("Checking latest %s release", channel)
	rel, err := f.Latest(ctx, channel)
	if err != nil {
		return versions.Installation{}, false, err
	}

	if current, err := f.store.Installation(channel); err == nil && current.Tag == rel.Tag {
		return current, false, nil
	}

	scratch, err := f.store.ScratchDir("install-" + channel + "-")
	if err != nil {
		return versions.Installation{}, false, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("Failed to clean %s: %v", scratch, err)
		}
	}()

	logf("Downloading %s %s", channel, rel.Tag)
	archivePath := filepath.Join(scratch, filepath.Base(rel.ArchiveName))
	if err := f.download(ctx, rel.ArchiveURL, archivePath); err != nil {
		return versions.Installation{}, false, err
	}

	tree := filepath.Join(scratch, "tree")
	if err := extractArchive(archivePath, tree); err != nil {
		return versions.Installation{}, false, apperr.Wrap(err, apperr.ErrMalformedRelease, "extract release archive").
			WithContext("archive", rel.ArchiveName)
	}
	root, err := versions.FindPackageRoot(tree)
	if err != nil {
		return versions.Installation{}, false, err
	}

	logf("Installing %s %s", channel, rel.Tag)
	inst, installed, err := f.store.Install(channel, rel.Tag, root)
	if err != nil {
		return versions.Installation{}, false, err
	}
	if f.invalidator != nil {
		f.invalidator.Invalidate(channel)
	}
	if installed && f.history != nil {
		rec := InstallRecord{
			Channel:     channel,
			Tag:         rel.Tag,
			Version:     inst.Version,
			ArchiveURL:  rel.ArchiveURL,
			InstalledAt: inst.InstalledAt,
		}
		if err := f.history.RecordInstall(ctx, rec); err != nil {
			log.Warn("Failed to record install of %s %s: %v", channel, rel.Tag, err)
		}
	}
	return inst, installed, nil
}

type pypiResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	URLs []struct {
		PackageType string    `json:"packagetype"`
		Filename    string    `json:"filename"`
		URL         string    `json:"url"`
		UploadTime  time.Time `json:"upload_time_iso_8601"`
	} `json:"urls"`
}

func (f *Fetcher) latestPyPI(ctx context.Context, project string) (Release, error) {
	var resp pypiResponse
	endpoint := fmt.Sprintf("%s/pypi/%s/json", f.pypiURL, project)
	if err := f.getJSON(ctx, endpoint, false, &resp); err != nil {
		return Release{}, err
	}
	if strings.TrimSpace(resp.Info.Version) == "" {
		return Release{}, apperr.New(apperr.ErrMalformedRelease, "pypi response has no version")
	}

	rel := Release{Tag: resp.Info.Version}
	// Wheels unpack straight to the package; the sdist is the fallback.
	for _, want := range []string{"bdist_wheel", "sdist"} {
		for _, u := range resp.URLs {
			if u.PackageType != want || !supportedArchive(u.Filename) {
				continue
			}
			rel.ArchiveURL = u.URL
			rel.ArchiveName = u.Filename
			rel.PublishedAt = u.UploadTime
			return rel, nil
		}
	}
	return Release{}, apperr.Newf(apperr.ErrMalformedRelease, "pypi release %s has no usable archive", rel.Tag)
}

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	TarballURL  string    `json:"tarball_url"`
	ZipballURL  string    `json:"zipball_url"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

func (f *Fetcher) latestGitHub(ctx context.Context, repo string) (Release, error) {
	var resp githubRelease
	endpoint := fmt.Sprintf("%s/repos/%s/releases/latest", f.githubURL, repo)
	if err := f.getJSON(ctx, endpoint, true, &resp); err != nil {
		return Release{}, err
	}
	if strings.TrimSpace(resp.TagName) == "" {
		return Release{}, apperr.New(apperr.ErrMalformedRelease, "release response did not include tag_name")
	}

	rel := Release{Tag: resp.TagName, PublishedAt: resp.PublishedAt}
	for _, a := range resp.Assets {
		if a.Name == "yt-dlp.tar.gz" && a.BrowserDownloadURL != "" {
			rel.ArchiveURL = a.BrowserDownloadURL
			rel.ArchiveName = a.Name
			return rel, nil
		}
	}
	switch {
	case resp.TarballURL != "":
		rel.ArchiveURL = resp.TarballURL
		rel.ArchiveName = "source.tar.gz"
	case resp.ZipballURL != "":
		rel.ArchiveURL = resp.ZipballURL
		rel.ArchiveName = "source.zip"
	default:
		return Release{}, apperr.Newf(apperr.ErrMalformedRelease, "release %s has no source archive", rel.Tag)
	}
	return rel, nil
}

func (f *Fetcher) getJSON(ctx context.Context, endpoint string, github bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrFetchFailed, "build request")
	}
	req.Header.Set("User-Agent", userAgent)
	if github {
		req.Header.Set("Accept", "application/vnd.github+json")
		if f.githubToken != "" {
			req.Header.Set("Authorization", "Bearer "+f.githubToken)
		}
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := f.apiClient.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrFetchFailed, "query release feed").WithContext("url", endpoint)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, endpoint); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.ErrFetchFailed, "decode release feed").WithContext("url", endpoint)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrFetchFailed, "build download request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.downloadClient.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrFetchFailed, "download release archive").WithContext("url", url)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, url); err != nil {
		return err
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return apperr.Wrap(err, apperr.ErrFetchFailed, "download release archive").WithContext("url", url)
	}
	return out.Close()
}

func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		e := apperr.Newf(apperr.ErrRateLimited, "rate limited by %s", hostOf(url))
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			e.WithContext("reset", reset)
		}
		return e
	}
	return apperr.Newf(apperr.ErrFetchFailed, "request failed (%d): %s", resp.StatusCode, msg).WithContext("url", url)
}

func hostOf(raw string) string {
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func orDefault(logf Logf) Logf {
	if logf != nil {
		return func(format string, args ...any) {
			log.Info(format, args...)
			logf(format, args...)
		}
	}
	return func(format string, args ...any) { log.Info(format, args...) }
}
