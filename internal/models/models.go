package models

// MediaAsset is the probed description of one media file
type MediaAsset struct {
	Path       string       `json:"path"`
	Duration   float64      `json:"duration"`
	FormatName string       `json:"format_name,omitempty"`
	Size       int64        `json:"size,omitempty"`
	BitRate    int64        `json:"bit_rate,omitempty"`
	HasVideo   bool         `json:"has_video"`
	HasAudio   bool         `json:"has_audio"`
	Video      *VideoStream `json:"video,omitempty"`
	Audio      *AudioStream `json:"audio,omitempty"`
}

// VideoStream describes the primary video stream of an asset
type VideoStream struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
	Codec  string  `json:"codec"`
}

// AudioStream describes the primary audio stream of an asset
type AudioStream struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Segment is a time range of a source asset with an ordered effect chain
type Segment struct {
	ID      string   `json:"id" yaml:"id" toml:"id"`
	Source  string   `json:"source" yaml:"source" toml:"source"`
	Start   float64  `json:"start" yaml:"start" toml:"start"`
	End     float64  `json:"end" yaml:"end" toml:"end"`
	Effects []Effect `json:"effects,omitempty" yaml:"effects,omitempty" toml:"effects,omitempty"`
}

// Duration returns the length of the source range in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

type EffectType string

const (
	EffectBrightness EffectType = "brightness"
	EffectContrast   EffectType = "contrast"
	EffectSaturation EffectType = "saturation"
	EffectBlur       EffectType = "blur"
	EffectFadeIn     EffectType = "fade-in"
	EffectFadeOut    EffectType = "fade-out"
	EffectSpeed      EffectType = "speed"
)

// Effect is one entry of a segment's effect chain. The shape of Params
// depends on Type and is validated when the filter graph is built.
type Effect struct {
	Type   EffectType         `json:"type" yaml:"type" toml:"type"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}

type TransitionType string

const (
	TransitionCrossfade TransitionType = "crossfade"
)

// Transition blends segment i into segment i+1
type Transition struct {
	Type     TransitionType `json:"type" yaml:"type" toml:"type"`
	Duration float64        `json:"duration" yaml:"duration" toml:"duration"`
}

// EncodeProfile is the resolved set of encoder parameters for one request
type EncodeProfile struct {
	Quality     string  `json:"quality"`
	CRF         int     `json:"crf"`
	Preset      string  `json:"encoder_preset"`
	BitrateMbps float64 `json:"bitrate_mbps"`
	MaxrateMbps float64 `json:"maxrate_mbps"`
	BufsizeMbps float64 `json:"bufsize_mbps"`
	Resolution  string  `json:"resolution"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
}

// KeepsSourceSize reports whether the profile leaves pixel dimensions alone
func (p EncodeProfile) KeepsSourceSize() bool {
	return p.Width == 0 || p.Height == 0
}
