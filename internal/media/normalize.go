package media

import (
	"net/url"
	"strings"
)

const forbiddenTitleChars = `\/*?:"<>|`

// SanitizeTitle removes characters that are illegal in file names on common
// filesystems and trims surrounding whitespace.
func SanitizeTitle(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenTitleChars, r) {
			return -1
		}
		return r
	}, title)
	return strings.TrimSpace(cleaned)
}

// PublishDate converts an extractor upload date (YYYYMMDD) to YYYY-MM-DD and
// returns the year alongside. Malformed input yields empty strings.
func PublishDate(uploadDate string) (date string, year string) {
	uploadDate = strings.TrimSpace(uploadDate)
	if len(uploadDate) != 8 {
		return "", ""
	}
	for _, r := range uploadDate {
		if r < '0' || r > '9' {
			return "", ""
		}
	}
	return uploadDate[:4] + "-" + uploadDate[4:6] + "-" + uploadDate[6:], uploadDate[:4]
}

// CanonicalURL reduces YouTube watch and short links to
// https://www.youtube.com/watch?v=ID. Other URLs are returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	}
	if id == "" {
		return raw
	}
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}
