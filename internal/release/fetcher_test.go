package release

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
)

func packageFiles(prefix, version string) map[string]string {
	return map[string]string{
		prefix + "yt_dlp/__init__.py":          "# entry\n",
		prefix + "yt_dlp/version.py":           fmt.Sprintf("__version__ = '%s'\n", version),
		prefix + "yt_dlp/extractor/youtube.py": "# yt\n",
		prefix + "README.md":                   "readme\n",
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type feedServer struct {
	*httptest.Server
	mu          sync.Mutex
	nightlyTag  string
	nightlyTar  []byte
	wheel       []byte
	rateLimited bool
	feedHits    atomic.Int32
	onWheel     func()
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/yt-dlp/json", func(w http.ResponseWriter, r *http.Request) {
		fs.feedHits.Add(1)
		fmt.Fprintf(w, `{"info":{"version":"2024.8.6"},"urls":[
			{"packagetype":"sdist","filename":"yt_dlp-2024.8.6.tar.gz","url":"%[1]s/files/sdist.tar.gz"},
			{"packagetype":"bdist_wheel","filename":"yt_dlp-2024.8.6-py3-none-any.whl","url":"%[1]s/files/wheel.whl"}
		]}`, fs.URL)
	})
	mux.HandleFunc("/repos/yt-dlp/yt-dlp-nightly-builds/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fs.feedHits.Add(1)
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.rateLimited {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "1723000000")
			http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
			return
		}
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		fmt.Fprintf(w, `{"tag_name":%q,"tarball_url":"%s/files/tarball","assets":[
			{"name":"yt-dlp","browser_download_url":"%[2]s/files/binary"},
			{"name":"yt-dlp.tar.gz","browser_download_url":"%[2]s/files/nightly.tar.gz"}
		]}`, fs.nightlyTag, fs.URL)
	})
	mux.HandleFunc("/repos/yt-dlp/yt-dlp-master-builds/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"tag_name":"2024.08.07","zipball_url":"%s/files/master.zip"}`, fs.URL)
	})
	mux.HandleFunc("/files/wheel.whl", func(w http.ResponseWriter, r *http.Request) {
		if fs.onWheel != nil {
			fs.onWheel()
		}
		_, _ = w.Write(fs.wheel)
	})
	mux.HandleFunc("/files/nightly.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_, _ = w.Write(fs.nightlyTar)
	})
	mux.HandleFunc("/files/master.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buildZip(t, map[string]string{"docs/index.md": "no package here"}))
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)

	fs.wheel = buildZip(t, packageFiles("", "2024.08.06"))
	fs.nightlyTag = "2024.08.06.232701"
	fs.nightlyTar = buildTarGz(t, packageFiles("yt-dlp/", "2024.08.06.232701"))
	return fs
}

func (fs *feedServer) setNightly(t *testing.T, tag string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nightlyTag = tag
	fs.nightlyTar = buildTarGz(t, packageFiles("yt-dlp/", tag))
}

type countingInvalidator struct {
	mu       sync.Mutex
	channels []string
}

func (c *countingInvalidator) Invalidate(channel string) {
	c.mu.Lock()
	c.channels = append(c.channels, channel)
	c.mu.Unlock()
}

type memoryHistory struct {
	records []InstallRecord
}

func (m *memoryHistory) RecordInstall(_ context.Context, rec InstallRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func newTestFetcher(t *testing.T, fs *feedServer, opts ...Option) (*Fetcher, *versions.Store) {
	t.Helper()
	store, err := versions.NewStore(t.TempDir())
	require.NoError(t, err)
	opts = append([]Option{WithEndpoints(fs.URL, fs.URL)}, opts...)
	return NewFetcher(store, opts...), store
}

func TestFetcher_LatestStablePrefersWheel(t *testing.T) {
	fs := newFeedServer(t)
	f, _ := newTestFetcher(t, fs)

	rel, err := f.Latest(context.Background(), versions.ChannelStable)
	require.NoError(t, err)
	assert.Equal(t, "2024.8.6", rel.Tag)
	assert.Equal(t, "yt_dlp-2024.8.6-py3-none-any.whl", rel.ArchiveName)
	assert.Equal(t, versions.ChannelStable, rel.Channel)
}

func TestFetcher_LatestNightlyUsesSourceAsset(t *testing.T) {
	fs := newFeedServer(t)
	f, _ := newTestFetcher(t, fs)

	rel, err := f.Latest(context.Background(), versions.ChannelNightly)
	require.NoError(t, err)
	assert.Equal(t, "2024.08.06.232701", rel.Tag)
	assert.True(t, strings.HasSuffix(rel.ArchiveURL, "/files/nightly.tar.gz"))
}

func TestFetcher_LatestUnknownChannel(t *testing.T) {
	fs := newFeedServer(t)
	f, _ := newTestFetcher(t, fs)

	_, err := f.Latest(context.Background(), "beta")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrInvalidInput))
}

func TestFetcher_InstallStableFromWheel(t *testing.T) {
	fs := newFeedServer(t)
	inv := &countingInvalidator{}
	hist := &memoryHistory{}
	f, store := newTestFetcher(t, fs, WithInvalidator(inv), WithHistory(hist))

	var messages []string
	ok := f.Install(context.Background(), versions.ChannelStable, func(format string, args ...any) {
		messages = append(messages, fmt.Sprintf(format, args...))
	})
	require.True(t, ok)

	inst, err := store.Installation(versions.ChannelStable)
	require.NoError(t, err)
	assert.Equal(t, "2024.8.6", inst.Tag)
	assert.Equal(t, "2024.08.06", inst.Version)
	assert.Equal(t, []string{versions.ChannelStable}, inv.channels)
	require.Len(t, hist.records, 1)
	assert.Equal(t, "2024.08.06", hist.records[0].Version)
	assert.NotEmpty(t, messages)
	assert.Contains(t, messages[len(messages)-1], "now runs yt-dlp 2024.08.06")
}

func TestFetcher_InstallIsIdempotent(t *testing.T) {
	fs := newFeedServer(t)
	hist := &memoryHistory{}
	f, store := newTestFetcher(t, fs, WithHistory(hist))
	ctx := context.Background()

	first, installed, err := f.InstallRelease(ctx, versions.ChannelNightly, nil)
	require.NoError(t, err)
	require.True(t, installed)

	second, installed, err := f.InstallRelease(ctx, versions.ChannelNightly, nil)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, first.Dir, second.Dir)
	assert.Len(t, hist.records, 1)

	fs.setNightly(t, "2024.08.07.000101")
	third, installed, err := f.InstallRelease(ctx, versions.ChannelNightly, nil)
	require.NoError(t, err)
	require.True(t, installed)
	assert.Equal(t, "2024.08.07.000101", third.Version)
	assert.NoDirExists(t, first.Dir)

	tag, ok := store.InstalledTag(versions.ChannelNightly)
	require.True(t, ok)
	assert.Equal(t, "2024.08.07.000101", tag)
}

func TestFetcher_RateLimited(t *testing.T) {
	fs := newFeedServer(t)
	fs.rateLimited = true
	f, store := newTestFetcher(t, fs)

	_, _, err := f.InstallRelease(context.Background(), versions.ChannelNightly, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrRateLimited))

	var logged []string
	ok := f.Install(context.Background(), versions.ChannelNightly, func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})
	assert.False(t, ok)
	assert.Contains(t, strings.Join(logged, "\n"), "skipped")

	_, err = store.Installation(versions.ChannelNightly)
	assert.True(t, apperr.IsType(err, apperr.ErrChannelNotInstalled))
}

func TestFetcher_MalformedReleaseKeepsExisting(t *testing.T) {
	fs := newFeedServer(t)
	f, store := newTestFetcher(t, fs, WithSources(map[string]Source{
		versions.ChannelMaster: {Kind: SourceGitHub, Name: "yt-dlp/yt-dlp-master-builds"},
	}))

	_, _, err := f.InstallRelease(context.Background(), versions.ChannelMaster, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrMalformedRelease))

	_, err = store.Installation(versions.ChannelMaster)
	assert.True(t, apperr.IsType(err, apperr.ErrChannelNotInstalled))
}

func TestFetcher_FetchFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store, err := versions.NewStore(t.TempDir())
	require.NoError(t, err)
	f := NewFetcher(store, WithEndpoints(srv.URL, srv.URL))

	_, err = f.Latest(context.Background(), versions.ChannelStable)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrFetchFailed))
	assert.Contains(t, err.Error(), "500")
}

func TestFetcher_ConcurrentInstallsShareWork(t *testing.T) {
	fs := newFeedServer(t)
	f, _ := newTestFetcher(t, fs)

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Install(context.Background(), versions.ChannelStable, nil)
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.LessOrEqual(t, int(fs.feedHits.Load()), 4)
}

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *lineLog) matching(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ret []string
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			ret = append(ret, line)
		}
	}
	return ret
}

func TestFetcher_JoinedInstallReceivesProgress(t *testing.T) {
	fs := newFeedServer(t)
	downloading := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	fs.onWheel = func() {
		once.Do(func() { close(downloading) })
		<-proceed
	}
	f, _ := newTestFetcher(t, fs)

	var first, second lineLog
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, installed, err := f.InstallRelease(context.Background(), versions.ChannelStable, first.logf)
		assert.NoError(t, err)
		assert.True(t, installed)
	}()
	<-downloading
	go func() {
		defer wg.Done()
		_, _, err := f.InstallRelease(context.Background(), versions.ChannelStable, second.logf)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		f.watchers.mu.Lock()
		defer f.watchers.mu.Unlock()
		return len(f.watchers.byChannel[versions.ChannelStable]) == 2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(proceed)
	wg.Wait()

	assert.Len(t, first.matching("Downloading stable"), 1)
	assert.Len(t, first.matching("Installing stable"), 1)
	assert.Empty(t, second.matching("Downloading stable"))
	assert.Equal(t, []string{"Installing stable 2024.8.6"}, second.matching("Installing stable"))

	f.watchers.mu.Lock()
	assert.Empty(t, f.watchers.byChannel)
	f.watchers.mu.Unlock()
}

func TestExtractArchive_SkipsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := dir + "/evil.zip"
	data := buildZip(t, map[string]string{
		"../escape.txt": "x",
		"ok/file.txt":   "y",
	})
	require.NoError(t, writeEntry(archive, bytes.NewReader(data)))

	dst := dir + "/out"
	require.NoError(t, extractArchive(archive, dst))
	assert.FileExists(t, dst+"/ok/file.txt")
	assert.NoFileExists(t, dir+"/escape.txt")
}
