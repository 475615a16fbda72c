package models

// TrimParams cuts [Start, End) out of Input. Without a quality preset and
// without effects the cut is a lossless stream copy.
type TrimParams struct {
	Input       string   `json:"input"`
	Output      string   `json:"output,omitempty"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Effects     []Effect `json:"effects,omitempty"`
	Quality     string   `json:"quality,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	BitrateMbps float64  `json:"bitrate_mbps,omitempty"`
	KeepPartial bool     `json:"keep_partial,omitempty"`
}

// Reencode reports whether the trim has to go through the encoder
func (p TrimParams) Reencode() bool {
	return p.Quality != "" || len(p.Effects) > 0
}

// MergeParams joins segments, optionally with transitions between them
type MergeParams struct {
	Segments    []Segment    `json:"segments"`
	Transitions []Transition `json:"transitions,omitempty"`
	Output      string       `json:"output,omitempty"`
	Quality     string       `json:"quality,omitempty"`
	Resolution  string       `json:"resolution,omitempty"`
	BitrateMbps float64      `json:"bitrate_mbps,omitempty"`
	KeepPartial bool         `json:"keep_partial,omitempty"`
}

type ExtractAudioParams struct {
	Input       string `json:"input"`
	Output      string `json:"output,omitempty"`
	Format      string `json:"format,omitempty"`
	KeepPartial bool   `json:"keep_partial,omitempty"`
}

// ReplaceAudioParams swaps (or, with Mix, blends) the audio of Video with Audio
type ReplaceAudioParams struct {
	Video       string  `json:"video"`
	Audio       string  `json:"audio"`
	Output      string  `json:"output,omitempty"`
	Mix         bool    `json:"mix,omitempty"`
	VideoVolume float64 `json:"video_volume,omitempty"`
	AudioVolume float64 `json:"audio_volume,omitempty"`
	KeepPartial bool    `json:"keep_partial,omitempty"`
}

type RemoveAudioParams struct {
	Input       string `json:"input"`
	Output      string `json:"output,omitempty"`
	KeepPartial bool   `json:"keep_partial,omitempty"`
}

type ThumbnailParams struct {
	Input  string  `json:"input"`
	Output string  `json:"output,omitempty"`
	Time   float64 `json:"time"`
	Width  int     `json:"width,omitempty"`
}

type ProbeParams struct {
	Input string `json:"input"`
}
