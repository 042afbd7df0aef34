package media

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
)

const (
	// Studio is written to every NFO as the source platform.
	Studio = "YouTube"

	maxNFOTags = 10
)

// Movie is the Emby/Kodi movie NFO document.
type Movie struct {
	XMLName   xml.Name `xml:"movie"`
	Title     string   `xml:"title"`
	Plot      string   `xml:"plot"`
	Premiered string   `xml:"premiered"`
	Year      string   `xml:"year"`
	Studio    string   `xml:"studio"`
	Director  string   `xml:"director,omitempty"`
	Tags      []string `xml:"tag"`
}

// NewMovie maps video metadata to an NFO document. Only the first ten tags
// are kept.
func NewMovie(info *VideoInfo) Movie {
	m := Movie{
		Title:     info.Title,
		Plot:      info.Description,
		Premiered: info.PublishDate,
		Year:      info.Year,
		Studio:    Studio,
		Director:  strings.TrimSpace(info.Uploader),
	}
	for _, tag := range info.Tags {
		if len(m.Tags) == maxNFOTags {
			break
		}
		m.Tags = append(m.Tags, tag)
	}
	return m
}

// MarshalNFO renders the document with an XML declaration.
func MarshalNFO(m Movie) ([]byte, error) {
	body, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	return append(out, '\n'), nil
}

// WriteNFO writes <path> for info, replacing any previous file atomically.
func WriteNFO(path string, info *VideoInfo) error {
	data, err := MarshalNFO(NewMovie(info))
	if err != nil {
		return apperr.Wrap(err, apperr.ErrSidecarWriteFailed, "NFO generation failed")
	}
	if err := file.WriteAtomic(path, data, 0o644); err != nil {
		return apperr.Wrap(err, apperr.ErrSidecarWriteFailed, "NFO generation failed").WithContext("path", path)
	}
	return nil
}

// ReadNFO reads a movie NFO
func ReadNFO(path string) (*Movie, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".nfo") {
		return nil, fmt.Errorf("file extension must be .nfo: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read NFO file: %w", err)
	}

	var m Movie
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	if m.XMLName.Local != "movie" {
		return nil, fmt.Errorf("unexpected NFO root <%s> in %s", m.XMLName.Local, path)
	}

	m.Title = strings.TrimSpace(m.Title)
	m.Plot = strings.TrimSpace(m.Plot)
	m.Premiered = strings.TrimSpace(m.Premiered)
	m.Year = strings.TrimSpace(m.Year)
	m.Studio = strings.TrimSpace(m.Studio)
	m.Director = strings.TrimSpace(m.Director)
	return &m, nil
}
