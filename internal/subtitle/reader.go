package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DefaultReader is the default subtitle file reader
type DefaultReader struct {
	path string
}

// NewReader creates a new subtitle file reader
func NewReader(
	path string,
) Reader {
	return &DefaultReader{
		path: path,
	}
}

// Read parses the file according to its extension.
func (r *DefaultReader) Read() (*File, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("subtitle file does not exist: %s", r.path)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(r.path), ".")) {
	case FormatSRT:
		return ReadSRTBytes(data, r.path)
	case FormatVTT:
		return ReadVTTBytes(data, r.path)
	case FormatASS:
		return ReadASSBytes(data, r.path)
	default:
		return nil, fmt.Errorf("unsupported subtitle format: %s", r.path)
	}
}

var (
	srtTimePattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})`)
	vttTimePattern = regexp.MustCompile(`^((?:\d+:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d+:)?\d{2}:\d{2}\.\d{3})`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	assTagPattern  = regexp.MustCompile(`\{[^}]*\}`)
)

// ReadSRTBytes parses SubRip content. path is only recorded on the result.
func ReadSRTBytes(data []byte, path string) (*File, error) {
	var lines []Line
	scanner := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))

	currentLine := Line{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			currentLine.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			startTime, endTime, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			currentLine.StartTime = startTime
			currentLine.EndTime = endTime
			state = "text"
			textLines = []string{}

		case "text":
			if line == "" {
				if len(textLines) > 0 {
					currentLine.Text = strings.Join(textLines, "\n")
					lines = append(lines, currentLine)
					currentLine = Line{}
				}
				state = "index"
				textLines = []string{}
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	// handle last subtitle group
	if state == "text" && len(textLines) > 0 {
		currentLine.Text = strings.Join(textLines, "\n")
		lines = append(lines, currentLine)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	return &File{
		Lines:    lines,
		Language: detectLanguage(lines),
		Format:   "SRT",
		Path:     path,
	}, nil
}

// ReadVTTBytes parses WebVTT content. Markup and inline timestamps are removed
// from cue text, and NOTE, STYLE and REGION blocks are skipped.
func ReadVTTBytes(data []byte, path string) (*File, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	blocks := strings.Split(text, "\n\n")
	if len(blocks) == 0 || !strings.HasPrefix(strings.TrimSpace(blocks[0]), "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header: %s", path)
	}

	var lines []Line
	for _, block := range blocks[1:] {
		rows := strings.Split(strings.Trim(block, "\n"), "\n")
		if len(rows) == 0 || rows[0] == "" {
			continue
		}
		switch {
		case strings.HasPrefix(rows[0], "NOTE"), strings.HasPrefix(rows[0], "STYLE"), strings.HasPrefix(rows[0], "REGION"):
			continue
		}

		// Optional cue identifier before the timing line.
		timing := 0
		if !strings.Contains(rows[0], "-->") {
			timing = 1
		}
		if timing >= len(rows) {
			continue
		}
		m := vttTimePattern.FindStringSubmatch(strings.TrimSpace(rows[timing]))
		if m == nil {
			return nil, fmt.Errorf("failed to parse time: %s", rows[timing])
		}
		start, err := parseVTTTimestamp(m[1])
		if err != nil {
			return nil, err
		}
		end, err := parseVTTTimestamp(m[2])
		if err != nil {
			return nil, err
		}

		var textLines []string
		for _, row := range rows[timing+1:] {
			row = strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(row, "")))
			if row != "" {
				textLines = append(textLines, row)
			}
		}
		if len(textLines) == 0 {
			continue
		}
		lines = append(lines, Line{
			Index:     len(lines) + 1,
			StartTime: start,
			EndTime:   end,
			Text:      strings.Join(textLines, "\n"),
		})
	}

	return &File{
		Lines:    lines,
		Language: detectLanguage(lines),
		Format:   "VTT",
		Path:     path,
	}, nil
}

// ReadASSBytes reads the Dialogue events of an ASS/SSA script. Override blocks
// are dropped and \N becomes a newline.
func ReadASSBytes(data []byte, path string) (*File, error) {
	var lines []Line
	scanner := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		row := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(row, "Dialogue:") {
			continue
		}
		fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(row, "Dialogue:")), ",", 10)
		if len(fields) != 10 {
			return nil, fmt.Errorf("malformed dialogue line: %s", row)
		}
		start, err := parseASSTimestamp(fields[1])
		if err != nil {
			return nil, err
		}
		end, err := parseASSTimestamp(fields[2])
		if err != nil {
			return nil, err
		}
		text := assTagPattern.ReplaceAllString(fields[9], "")
		text = strings.NewReplacer(`\N`, "\n", `\n`, "\n", `\h`, " ").Replace(text)
		lines = append(lines, Line{
			Index:     len(lines) + 1,
			StartTime: start,
			EndTime:   end,
			Text:      strings.TrimSpace(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	return &File{
		Lines:    lines,
		Language: detectLanguage(lines),
		Format:   "ASS",
		Path:     path,
	}, nil
}

// parseSRTTime parses SRT time format
func parseSRTTime(timeString string) (time.Duration, time.Duration, error) {
	// SRT time format: 00:02:16,612 --> 00:02:19,376
	matches := srtTimePattern.FindStringSubmatch(timeString)

	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", timeString)
	}

	parseTime := func(hours, minutes, seconds, milliseconds string) time.Duration {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)

		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond
	}

	return parseTime(matches[1], matches[2], matches[3], matches[4]),
		parseTime(matches[5], matches[6], matches[7], matches[8]), nil
}

// parseVTTTimestamp accepts hh:mm:ss.ttt and mm:ss.ttt.
func parseVTTTimestamp(ts string) (time.Duration, error) {
	clock, frac, ok := strings.Cut(ts, ".")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp: %s", ts)
	}
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp: %s", ts)
	}
	var vals [4]int
	for i, p := range append(parts, frac) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %s: %w", ts, err)
		}
		vals[i] = v
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second +
		time.Duration(vals[3])*time.Millisecond, nil
}

// parseASSTimestamp parses h:mm:ss.cc.
func parseASSTimestamp(ts string) (time.Duration, error) {
	ts = strings.TrimSpace(ts)
	clock, frac, ok := strings.Cut(ts, ".")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp: %s", ts)
	}
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp: %s", ts)
	}
	var vals [4]int
	for i, p := range append(parts, frac) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %s: %w", ts, err)
		}
		vals[i] = v
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second +
		time.Duration(vals[3])*10*time.Millisecond, nil
}

// detectLanguage votes per line and returns the most frequent language.
func detectLanguage(lines []Line) language.Tag {
	if len(lines) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)

	for _, line := range lines {
		lang := whatlanggo.DetectLang(line.Text).Iso6391()
		langMap[lang]++
	}

	// Get top language
	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}

	return language.All.Make(topLang)
}

// maxDetectSample bounds the text handed to the detector.
const maxDetectSample = 4096

// DetectLanguage guesses the language of all cues together. ok is false when
// the detector is not confident.
func DetectLanguage(lines []Line) (code string, ok bool) {
	var sb strings.Builder
	for _, line := range lines {
		if sb.Len() >= maxDetectSample {
			break
		}
		sb.WriteString(line.Text)
		sb.WriteByte('\n')
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", false
	}

	info := whatlanggo.Detect(sb.String())
	if !info.IsReliable() {
		return "", false
	}
	code = info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return code, true
}

// NormalizeLanguage canonicalizes a BCP 47 code such as "zh-hans". Codes the
// parser rejects are returned unchanged.
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return code
	}
	return tag.String()
}
