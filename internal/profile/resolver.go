// Package profile maps named quality and resolution presets to concrete
// encoder parameters.
package profile

import (
	"math"
	"sort"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

// QualityPreset is one entry of the closed quality table.
type QualityPreset struct {
	Name        string  `json:"name"`
	CRF         int     `json:"crf"`
	Preset      string  `json:"encoder_preset"`
	BitrateMbps float64 `json:"bitrate_mbps"`
}

// Resolution is one entry of the closed resolution table. Width and Height
// are zero for "original", which keeps the source dimensions.
type Resolution struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

const (
	DefaultQuality    = "high"
	DefaultResolution = "original"

	maxrateFactor = 1.5
	bufsizeFactor = 2.0

	// effect parameters are authored against 1080p output
	referenceHeight = 1080
)

var qualityPresets = map[string]QualityPreset{
	"ultra":  {Name: "ultra", CRF: 18, Preset: "slow", BitrateMbps: 12},
	"high":   {Name: "high", CRF: 20, Preset: "medium", BitrateMbps: 8},
	"medium": {Name: "medium", CRF: 23, Preset: "medium", BitrateMbps: 5},
	"low":    {Name: "low", CRF: 28, Preset: "veryfast", BitrateMbps: 2.5},
}

var resolutions = map[string]Resolution{
	"original": {Name: "original"},
	"480p":     {Name: "480p", Width: 854, Height: 480},
	"720p":     {Name: "720p", Width: 1280, Height: 720},
	"1080p":    {Name: "1080p", Width: 1920, Height: 1080},
	"1440p":    {Name: "1440p", Width: 2560, Height: 1440},
	"4k":       {Name: "4k", Width: 3840, Height: 2160},
}

// Resolver resolves encode profiles. The zero value is ready to use and
// falls back to DefaultQuality and DefaultResolution.
type Resolver struct {
	quality    string
	resolution string
}

// NewResolver creates a resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// WithDefaults returns a resolver that substitutes quality and resolution
// for empty request names. Empty arguments keep the package defaults.
func (r *Resolver) WithDefaults(quality, resolution string) *Resolver {
	return &Resolver{quality: quality, resolution: resolution}
}

// Resolve maps quality and resolution names to an EncodeProfile. A bitrate
// of zero selects the preset's bitrate. Unknown names are validation errors;
// there is no fallback substitution.
func (r *Resolver) Resolve(quality, resolution string, bitrateMbps float64) (models.EncodeProfile, error) {
	q, ok := qualityPresets[quality]
	if !ok {
		return models.EncodeProfile{}, apperr.Validationf("unknown quality preset %q (valid: %v)", quality, QualityNames())
	}
	res, ok := resolutions[resolution]
	if !ok {
		return models.EncodeProfile{}, apperr.Validationf("unknown resolution %q (valid: %v)", resolution, ResolutionNames())
	}
	if bitrateMbps < 0 || math.IsNaN(bitrateMbps) || math.IsInf(bitrateMbps, 0) {
		return models.EncodeProfile{}, apperr.Validationf("bitrate must be a positive number of Mbps, got %v", bitrateMbps)
	}
	if bitrateMbps == 0 {
		bitrateMbps = q.BitrateMbps
	}

	return models.EncodeProfile{
		Quality:     q.Name,
		CRF:         q.CRF,
		Preset:      q.Preset,
		BitrateMbps: bitrateMbps,
		MaxrateMbps: bitrateMbps * maxrateFactor,
		BufsizeMbps: bitrateMbps * bufsizeFactor,
		Resolution:  res.Name,
		Width:       res.Width,
		Height:      res.Height,
	}, nil
}

// ResolveDefaults is Resolve with empty names replaced by the defaults.
func (r *Resolver) ResolveDefaults(quality, resolution string, bitrateMbps float64) (models.EncodeProfile, error) {
	if quality == "" {
		quality = r.quality
	}
	if quality == "" {
		quality = DefaultQuality
	}
	if resolution == "" {
		resolution = r.resolution
	}
	if resolution == "" {
		resolution = DefaultResolution
	}
	return r.Resolve(quality, resolution, bitrateMbps)
}

// EffectScale returns the factor applied to pixel-sized effect parameters
// (blur radius) for the given output height. Zero height means the source
// size is kept and the parameters apply as authored.
func (r *Resolver) EffectScale(outputHeight int) float64 {
	if outputHeight <= 0 {
		return 1
	}
	return float64(outputHeight) / referenceHeight
}

// Qualities returns the quality table sorted by CRF (best first)
func Qualities() []QualityPreset {
	out := make([]QualityPreset, 0, len(qualityPresets))
	for _, q := range qualityPresets {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CRF < out[j].CRF })
	return out
}

// Resolutions returns the resolution table sorted by height
func Resolutions() []Resolution {
	out := make([]Resolution, 0, len(resolutions))
	for _, r := range resolutions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

func QualityNames() []string {
	var names []string
	for _, q := range Qualities() {
		names = append(names, q.Name)
	}
	return names
}

func ResolutionNames() []string {
	var names []string
	for _, r := range Resolutions() {
		names = append(names, r.Name)
	}
	return names
}
