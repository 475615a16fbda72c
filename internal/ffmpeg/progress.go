package ffmpeg

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "frame=  123 fps= 45 q=28.0 size=  1024kB time=00:01:23.45 bitrate= 123.4kbits/s"
	// and the audio-only form "size=  233422kB time=01:45:50.68 bitrate= 301.1kbits/s"
	timePattern  = regexp.MustCompile(`(?:^|\s)time=\s*(\S+)`)
	fpsPattern   = regexp.MustCompile(`(?:^|\s)fps=\s*([0-9.]+)`)
	speedPattern = regexp.MustCompile(`(?:^|\s)speed=\s*([0-9.]+)x`)
	clockPattern = regexp.MustCompile(`^(-?)(\d+):(\d+):(\d+)\.(\d+)$`)
)

// Progress is one parsed engine status line.
type Progress struct {
	Seconds float64
	// Percent of the expected duration, clamped to [0, 100].
	Percent float64
	FPS     float64
	Speed   float64
}

// ProgressParser parses FFmpeg stderr output for progress information
type ProgressParser struct {
	duration float64
}

// NewProgressParser creates a parser for an output of the given expected
// duration in seconds.
func NewProgressParser(duration float64) *ProgressParser {
	return &ProgressParser{duration: duration}
}

// ParseLine parses a single line of FFmpeg output. ok is false when the line
// carries no usable time position.
func (p *ProgressParser) ParseLine(line string) (Progress, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	seconds, err := parseFFmpegTime(m[1])
	if err != nil || seconds < 0 || p.duration <= 0 {
		return Progress{}, false
	}

	pr := Progress{Seconds: seconds, Percent: seconds * 100 / p.duration}
	if pr.Percent > 100 {
		pr.Percent = 100
	}
	if m := fpsPattern.FindStringSubmatch(line); m != nil {
		pr.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := speedPattern.FindStringSubmatch(line); m != nil {
		pr.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	return pr, true
}

// parseFFmpegTime parses FFmpeg time format (HH:MM:SS.MS) to seconds
func parseFFmpegTime(timeStr string) (float64, error) {
	matches := clockPattern.FindStringSubmatch(timeStr)
	if len(matches) != 6 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hours, _ := strconv.Atoi(matches[2])
	minutes, _ := strconv.Atoi(matches[3])
	seconds, _ := strconv.Atoi(matches[4])
	fraction, _ := strconv.ParseFloat("0."+matches[5], 64)

	total := float64(hours*3600+minutes*60+seconds) + fraction
	if matches[1] == "-" {
		total = -total
	}
	return total, nil
}

// scanStatusLines is a bufio.SplitFunc that splits on '\n' and '\r'. FFmpeg
// rewrites its status line in place with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ParseFFmpegError extracts the most relevant error line from FFmpeg stderr
// output.
func ParseFFmpegError(stderr string) string {
	lines := strings.FieldsFunc(stderr, func(r rune) bool { return r == '\n' || r == '\r' })

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.Contains(line, "error") ||
			strings.Contains(line, "Error") ||
			strings.Contains(line, "Invalid") ||
			strings.Contains(line, "failed") ||
			strings.Contains(line, "No such") {
			return line
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "Unknown FFmpeg error"
}
