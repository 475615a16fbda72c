package ffmpeg

import (
	"strings"
	"testing"

	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
)

func TestCopyTrimArgs(t *testing.T) {
	got := strings.Join(CopyTrimArgs("in.mp4", "out.mp4", 1.5, 4), " ")
	want := "-hide_banner -nostdin -ss 1.500000 -i in.mp4 -t 2.500000 -map 0 -c copy -avoid_negative_ts make_zero -movflags +faststart -y out.mp4"
	if got != want {
		t.Errorf("CopyTrimArgs() =\n%s\nwant\n%s", got, want)
	}
}

func TestEncodeArgs(t *testing.T) {
	segs := []models.Segment{
		{ID: "a", Source: "a.mp4", Start: 2, End: 6},
		{ID: "b", Source: "b.mp4", Start: 0, End: 3},
	}
	spec, err := filtergraph.NewBuilder(filtergraph.Options{Audio: true}).Build(segs, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	profile := models.EncodeProfile{CRF: 20, Preset: "medium", BitrateMbps: 8, MaxrateMbps: 12, BufsizeMbps: 16}

	got := strings.Join(EncodeArgs(spec, profile, "out.mp4"), " ")
	for _, want := range []string{
		"-ss 2.000000 -t 4.000000 -i a.mp4",
		"-t 3.000000 -i b.mp4",
		"-filter_complex [0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[vout][aout]",
		"-map [vout] -map [aout]",
		"-c:v libx264 -pix_fmt yuv420p -preset medium -crf 20 -maxrate 12000k -bufsize 16000k",
		"-c:a aac",
		"-y out.mp4",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("EncodeArgs() = %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "-ss 0.000000") {
		t.Error("zero start should not seek")
	}
}

func TestEncodeArgsVideoOnly(t *testing.T) {
	seg := models.Segment{ID: "a", Source: "a.mp4", Start: 0, End: 5,
		Effects: []models.Effect{{Type: models.EffectBrightness, Params: map[string]float64{"value": 0.1}}}}
	spec, err := filtergraph.NewBuilder(filtergraph.Options{}).BuildSegment(seg)
	if err != nil {
		t.Fatalf("BuildSegment() error = %v", err)
	}
	got := strings.Join(EncodeArgs(spec, models.EncodeProfile{CRF: 23}, "out.mp4"), " ")
	if !strings.Contains(got, "-an") || strings.Contains(got, "[aout]") {
		t.Errorf("video-only encode = %q", got)
	}
}

func TestExtractAudioArgs(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3", "-vn -c:a libmp3lame -b:a 192k -y out"},
		{".WAV", "-vn -c:a pcm_s16le -y out"},
		{"flac", "-vn -c:a flac -y out"},
		{"ogg", "-vn -c:a libvorbis -b:a 192k -y out"},
		{"mka", "-vn -c:a copy -y out"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got := strings.Join(ExtractAudioArgs("in.mp4", "out", tt.format), " ")
			if !strings.HasSuffix(got, tt.want) {
				t.Errorf("ExtractAudioArgs() = %q, want suffix %q", got, tt.want)
			}
		})
	}
}

func TestAudioArgs(t *testing.T) {
	replace := strings.Join(ReplaceAudioArgs("v.mp4", "a.mp3", "o.mp4"), " ")
	if !strings.Contains(replace, "-i v.mp4 -i a.mp3 -map 0:v:0 -map 1:a:0 -c:v copy") || !strings.Contains(replace, "-shortest") {
		t.Errorf("ReplaceAudioArgs() = %q", replace)
	}

	mix, err := filtergraph.MixAudio(1, 0.8)
	if err != nil {
		t.Fatalf("MixAudio() error = %v", err)
	}
	mixed := strings.Join(MixAudioArgs("v.mp4", "a.mp3", "o.mp4", mix), " ")
	if !strings.Contains(mixed, "amix=inputs=2") || !strings.Contains(mixed, "-map [aout]") {
		t.Errorf("MixAudioArgs() = %q", mixed)
	}

	remove := strings.Join(RemoveAudioArgs("v.mp4", "o.mp4"), " ")
	if !strings.Contains(remove, "-c copy -an") {
		t.Errorf("RemoveAudioArgs() = %q", remove)
	}

	thumb := strings.Join(ThumbnailArgs("v.mp4", "t.jpg", 3.25, 320), " ")
	if !strings.Contains(thumb, "-ss 3.250 -i v.mp4 -vframes 1 -vf scale=320:-2") {
		t.Errorf("ThumbnailArgs() = %q", thumb)
	}
}

func TestAudioCodec(t *testing.T) {
	if c, ok := AudioCodec(".M4A"); !ok || c != "aac" {
		t.Errorf("AudioCodec(.M4A) = %q, %v", c, ok)
	}
	if _, ok := AudioCodec("wma"); ok {
		t.Error("wma should not be supported")
	}
}
