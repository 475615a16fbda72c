package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
)

// audioCodecs maps an audio container extension to its encoder.
var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"wav":  "pcm_s16le",
	"aac":  "aac",
	"m4a":  "aac",
	"flac": "flac",
	"ogg":  "libvorbis",
}

// losslessAudio formats take no bitrate.
var losslessAudio = map[string]bool{"wav": true, "flac": true}

const audioBitrate = "192k"

func seconds(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

// kbps renders a megabit rate as an ffmpeg kilobit value ("12000k").
func kbps(mbps float64) string {
	return strconv.FormatInt(int64(mbps*1000+0.5), 10) + "k"
}

// CopyTrimArgs cuts [start, end) without re-encoding. Input seeking (-ss
// before -i) jumps straight to the nearest keyframe.
func CopyTrimArgs(input, output string, start, end float64) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(end - start),
		"-map", "0",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-movflags", "+faststart",
		"-y", output,
	}
}

// EncodeArgs runs a filter graph spec through the H.264/AAC encoder with the
// given profile. Inputs with a time range are trimmed at demux time.
func EncodeArgs(spec *filtergraph.Spec, profile models.EncodeProfile, output string) []string {
	args := []string{"-hide_banner", "-nostdin"}
	for _, in := range spec.Inputs {
		if in.Start > 0 {
			args = append(args, "-ss", seconds(in.Start))
		}
		if in.End > in.Start {
			args = append(args, "-t", seconds(in.End-in.Start))
		}
		args = append(args, "-i", in.Path)
	}

	if graph := spec.FilterComplex(); graph != "" {
		args = append(args, "-filter_complex", graph, "-map", "["+spec.VideoOut+"]")
		if spec.AudioOut != "" {
			args = append(args, "-map", "["+spec.AudioOut+"]")
		}
	} else {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	}

	args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
	if profile.Preset != "" {
		args = append(args, "-preset", profile.Preset)
	}
	if profile.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(profile.CRF))
	}
	if profile.MaxrateMbps > 0 {
		args = append(args, "-maxrate", kbps(profile.MaxrateMbps), "-bufsize", kbps(profile.BufsizeMbps))
	}
	if spec.AudioOut != "" || spec.Graph == nil {
		args = append(args, "-c:a", "aac", "-b:a", audioBitrate)
	} else {
		args = append(args, "-an")
	}

	return append(args, "-movflags", "+faststart", "-y", output)
}

// AudioCodec returns the encoder for an audio output format ("mp3", ".wav").
func AudioCodec(format string) (string, bool) {
	codec, ok := audioCodecs[strings.TrimPrefix(strings.ToLower(format), ".")]
	return codec, ok
}

// ExtractAudioArgs drops the video stream and encodes audio for format.
func ExtractAudioArgs(input, output, format string) []string {
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	codec, ok := audioCodecs[format]
	if !ok {
		codec = "copy"
	}
	args := []string{"-hide_banner", "-nostdin", "-i", input, "-vn", "-c:a", codec}
	if ok && !losslessAudio[format] {
		args = append(args, "-b:a", audioBitrate)
	}
	return append(args, "-y", output)
}

// ReplaceAudioArgs keeps the first video stream of video and takes the first
// audio stream of audio. The output ends with the shorter of the two.
func ReplaceAudioArgs(video, audio, output string) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", audioBitrate,
		"-shortest",
		"-y", output,
	}
}

// MixAudioArgs blends the audio of video with audio through a mix graph
// (see filtergraph.MixAudio). The video stream is copied.
func MixAudioArgs(video, audio, output string, mix *filtergraph.Spec) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-i", video,
		"-i", audio,
		"-filter_complex", mix.FilterComplex(),
		"-map", "0:v:0",
		"-map", "[" + mix.AudioOut + "]",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", audioBitrate,
		"-y", output,
	}
}

// RemoveAudioArgs copies every stream except audio.
func RemoveAudioArgs(input, output string) []string {
	return []string{"-hide_banner", "-nostdin", "-i", input, "-map", "0", "-c", "copy", "-an", "-y", output}
}

// ThumbnailArgs grabs the frame at t. A positive width scales the frame,
// keeping the aspect ratio with an even height.
func ThumbnailArgs(input, output string, t float64, width int) []string {
	args := []string{
		"-hide_banner", "-nostdin",
		"-ss", fmt.Sprintf("%.3f", t),
		"-i", input,
		"-vframes", "1",
	}
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	return append(args, "-q:v", "2", "-y", output)
}
