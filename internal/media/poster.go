package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
	"golang.org/x/image/webp"
)

const (
	DefaultPosterTimeout  = 10 * time.Second
	DefaultPosterAttempts = 3

	maxPosterBytes = 20 << 20
)

// PosterName is the Emby poster file name for a stem.
func PosterName(stem string) string {
	return stem + "-poster.jpg"
}

// PosterFetcher downloads thumbnails and stores them as JPEG posters.
type PosterFetcher struct {
	client   *http.Client
	attempts int
}

// NewPosterFetcher returns a fetcher whose every attempt is bounded by timeout.
// Attempts are made back to back.
func NewPosterFetcher(timeout time.Duration, attempts int) *PosterFetcher {
	if timeout <= 0 {
		timeout = DefaultPosterTimeout
	}
	if attempts <= 0 {
		attempts = DefaultPosterAttempts
	}
	return &PosterFetcher{
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
	}
}

// Fetch saves the image at url to target. WebP and PNG thumbnails are
// re-encoded so the poster is always a JPEG.
func (p *PosterFetcher) Fetch(ctx context.Context, url, target string) error {
	if url == "" {
		return apperr.New(apperr.ErrThumbnailFailed, "thumbnail download failed: no thumbnail url")
	}

	var (
		data    []byte
		attempt int
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.attempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempt++
		body, err := p.get(ctx, url)
		if err != nil {
			log.Warn("Thumbnail attempt %d failed: %v", attempt, err)
			return err
		}
		data = body
		return nil
	}, policy)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrThumbnailFailed, "thumbnail download failed").WithContext("attempts", attempt)
	}

	jpg, err := toJPEG(data)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrThumbnailFailed, "thumbnail download failed")
	}
	if err := file.WriteAtomic(target, jpg, 0o644); err != nil {
		return apperr.Wrap(err, apperr.ErrThumbnailFailed, "save poster").WithContext("path", target)
	}
	return nil
}

func (p *PosterFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPosterBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPosterBytes {
		return nil, backoff.Permanent(fmt.Errorf("thumbnail larger than %d bytes", maxPosterBytes))
	}
	return data, nil
}

func toJPEG(data []byte) ([]byte, error) {
	mtype := mimetype.Detect(data)

	var (
		img image.Image
		err error
	)
	switch {
	case mtype.Is("image/jpeg"):
		return data, nil
	case mtype.Is("image/webp"):
		img, err = webp.Decode(bytes.NewReader(data))
	case mtype.Is("image/png"):
		img, err = png.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("thumbnail is %s, not an image", mtype.String())
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s thumbnail: %w", mtype.String(), err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode poster: %w", err)
	}
	return buf.Bytes(), nil
}
