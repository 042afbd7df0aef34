package subtitle

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// SRTWriter writes SubRip files.
type SRTWriter struct{}

// ASSWriter writes Advanced SubStation Alpha scripts with a single Default style.
type ASSWriter struct{}

// NewWriter returns the writer for format ("srt" or "ass").
func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(format) {
	case FormatSRT:
		return &SRTWriter{}, nil
	case FormatASS:
		return &ASSWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func (w *SRTWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	return writeFile(path, func(writer *bufio.Writer) {
		for i, line := range subtitle.Lines {
			index := line.Index
			if index == 0 {
				index = i + 1
			}
			fmt.Fprintf(writer, "%d\n", index)
			fmt.Fprintf(writer, "%s --> %s\n", formatDuration(line.StartTime), formatDuration(line.EndTime))
			fmt.Fprintf(writer, "%s\n\n", line.Text)
		}
	})
}

const assHeader = `[Script Info]
WrapStyle: 0
ScaledBorderAndShadow: yes
Collisions: Normal
ScriptType: v4.00+

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20.0,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100.0,100.0,0.0,0.0,1,2.0,2.0,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

func (w *ASSWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	return writeFile(path, func(writer *bufio.Writer) {
		writer.WriteString(assHeader)
		for _, line := range subtitle.Lines {
			fmt.Fprintln(writer, DialogueLine(line))
		}
	})
}

// DialogueLine renders one cue as an ASS event.
func DialogueLine(line Line) string {
	text := strings.ReplaceAll(line.Text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", `\N`)
	return fmt.Sprintf("Dialogue: 0,%s,%s,Default,,0,0,0,,%s",
		formatASSDuration(line.StartTime), formatASSDuration(line.EndTime), text)
}

func writeFile(path string, body func(*bufio.Writer)) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	writer := bufio.NewWriter(file)
	body(writer)
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// formatDuration formats time.Duration to SRT time format
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}

// formatASSDuration formats to h:mm:ss.cc; ASS has centisecond precision.
func formatASSDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	centis := int(d.Milliseconds()) % 1000 / 10

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, seconds, centis)
}
