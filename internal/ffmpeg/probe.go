package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

// DefaultFrameRate is used when a stream's frame rate cannot be parsed.
const DefaultFrameRate = 30.0

// ProbeResult contains media metadata from FFprobe
type ProbeResult struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format contains container format information
type Format struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate,omitempty"`
	Tags       Tags   `json:"tags,omitempty"`
}

// Stream contains information about a media stream
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration,omitempty"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
	Tags Tags `json:"tags,omitempty"`
}

// Tags contains metadata tags
type Tags map[string]string

// Probe queries path's metadata. Failures are probe errors; the query is
// bounded by the executor's probe timeout.
func (e *Executor) Probe(ctx context.Context, path string) (*models.MediaAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)

	e.logger.Debug("Executing FFprobe", zap.String("file", path))

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(exitErr.Stderr))
			if msg == "" {
				msg = "unreadable or unsupported media"
			}
			return nil, apperr.Wrap(apperr.KindProbe, err, "ffprobe %s: %s", path, msg)
		}
		return nil, apperr.Wrap(apperr.KindProbe, err, "ffprobe %s", path)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, apperr.Wrap(apperr.KindProbe, err, "parse ffprobe output for %s", path)
	}

	asset, err := result.Asset(path)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("FFprobe completed successfully",
		zap.String("file", path),
		zap.String("format", asset.FormatName),
		zap.Float64("duration", asset.Duration),
	)
	return asset, nil
}

// Asset converts the raw result into a MediaAsset. A result without any
// audio or video stream is a probe error.
func (r *ProbeResult) Asset(path string) (*models.MediaAsset, error) {
	asset := &models.MediaAsset{
		Path:       path,
		FormatName: r.Format.FormatName,
	}
	asset.Duration, _ = strconv.ParseFloat(r.Format.Duration, 64)
	asset.Size, _ = strconv.ParseInt(r.Format.Size, 10, 64)
	asset.BitRate, _ = strconv.ParseInt(r.Format.BitRate, 10, 64)

	for _, s := range r.Streams {
		switch s.CodecType {
		case "video":
			// cover art is a single-frame video stream, not footage
			if asset.Video != nil || s.Disposition.AttachedPic == 1 {
				continue
			}
			fps := ParseFrameRate(s.AvgFrameRate)
			if s.AvgFrameRate == "" || s.AvgFrameRate == "0/0" {
				fps = ParseFrameRate(s.RFrameRate)
			}
			asset.Video = &models.VideoStream{Width: s.Width, Height: s.Height, FPS: fps, Codec: s.CodecName}
		case "audio":
			if asset.Audio != nil {
				continue
			}
			rate, _ := strconv.Atoi(s.SampleRate)
			asset.Audio = &models.AudioStream{Codec: s.CodecName, SampleRate: rate, Channels: s.Channels}
		}
		if asset.Duration == 0 && s.Duration != "" {
			asset.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
	}

	asset.HasVideo = asset.Video != nil
	asset.HasAudio = asset.Audio != nil
	if !asset.HasVideo && !asset.HasAudio {
		return nil, apperr.New(apperr.KindProbe, "%s has no audio or video stream", path)
	}
	return asset, nil
}

// ParseFrameRate parses an FFprobe rational ("30000/1001") or decimal
// ("25") frame rate. Unparseable values, zero denominators and
// non-positive or non-finite rates yield DefaultFrameRate.
func ParseFrameRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		v, err := strconv.ParseFloat(num, 64)
		if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return DefaultFrameRate
		}
		return v
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return DefaultFrameRate
	}
	d, err := strconv.ParseInt(den, 10, 64)
	if err != nil || d == 0 || n <= 0 || d < 0 {
		return DefaultFrameRate
	}
	return float64(n) / float64(d)
}
