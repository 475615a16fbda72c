package filtergraph

import (
	"math"
	"sort"
	"strconv"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

// filterSpec is one filter primitive before it is wired into the graph.
type filterSpec struct {
	name string
	opts []Option
}

// compiled is the result of lowering an effect chain.
type compiled struct {
	video    []filterSpec
	audio    []filterSpec
	duration float64
}

type paramRange struct {
	min, max     float64
	exclusiveMin bool
}

func (r paramRange) contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if r.exclusiveMin {
		if v <= r.min {
			return false
		}
	} else if v < r.min {
		return false
	}
	return v <= r.max
}

// effectParams lists the single parameter every effect type accepts.
var effectParams = map[models.EffectType]struct {
	key string
	rng paramRange
}{
	models.EffectBrightness: {"value", paramRange{min: -1, max: 1}},
	models.EffectContrast:   {"value", paramRange{min: 0, max: 4, exclusiveMin: true}},
	models.EffectSaturation: {"value", paramRange{min: 0, max: 3}},
	models.EffectBlur:       {"radius", paramRange{min: 0, max: 50, exclusiveMin: true}},
	models.EffectFadeIn:     {"duration", paramRange{min: 0, max: math.MaxFloat64, exclusiveMin: true}},
	models.EffectFadeOut:    {"duration", paramRange{min: 0, max: math.MaxFloat64, exclusiveMin: true}},
	models.EffectSpeed:      {"factor", paramRange{min: 0.5, max: 2}},
}

// ValidateEffect checks an effect's type and parameter shape without
// lowering it.
func ValidateEffect(e models.Effect) error {
	_, err := effectValue(e)
	return err
}

func effectValue(e models.Effect) (float64, error) {
	spec, ok := effectParams[e.Type]
	if !ok {
		return 0, apperr.Compositionf("unknown effect type %q", e.Type)
	}
	for key := range e.Params {
		if key != spec.key {
			return 0, apperr.Compositionf("effect %s: unexpected parameter %q", e.Type, key)
		}
	}
	v, ok := e.Params[spec.key]
	if !ok {
		return 0, apperr.Compositionf("effect %s: missing parameter %q", e.Type, spec.key)
	}
	if !spec.rng.contains(v) {
		return 0, apperr.Compositionf("effect %s: %s=%v out of range", e.Type, spec.key, v)
	}
	return v, nil
}

// compileEffects lowers an ordered effect chain for a segment of the given
// duration. scale multiplies pixel-sized parameters.
func compileEffects(effects []models.Effect, duration, scale float64) (compiled, error) {
	out := compiled{duration: duration}

	for _, e := range effects {
		v, err := effectValue(e)
		if err != nil {
			return compiled{}, err
		}

		switch e.Type {
		case models.EffectBrightness:
			out.video = append(out.video, filterSpec{"eq", []Option{{"brightness", num(v)}}})
		case models.EffectContrast:
			out.video = append(out.video, filterSpec{"eq", []Option{{"contrast", num(v)}}})
		case models.EffectSaturation:
			out.video = append(out.video, filterSpec{"eq", []Option{{"saturation", num(v)}}})
		case models.EffectBlur:
			radius := math.Max(1, math.Round(v*scale))
			out.video = append(out.video, filterSpec{"boxblur", []Option{{"luma_radius", num(radius)}, {"luma_power", "1"}}})
		case models.EffectFadeIn:
			if v > out.duration {
				return compiled{}, apperr.Compositionf("effect %s: duration %v exceeds segment length %v", e.Type, v, num(out.duration))
			}
			out.video = append(out.video, filterSpec{"fade", []Option{{"t", "in"}, {"st", "0"}, {"d", num(v)}}})
			out.audio = append(out.audio, filterSpec{"afade", []Option{{"t", "in"}, {"st", "0"}, {"d", num(v)}}})
		case models.EffectFadeOut:
			if v > out.duration {
				return compiled{}, apperr.Compositionf("effect %s: duration %v exceeds segment length %v", e.Type, v, num(out.duration))
			}
			st := num(out.duration - v)
			out.video = append(out.video, filterSpec{"fade", []Option{{"t", "out"}, {"st", st}, {"d", num(v)}}})
			out.audio = append(out.audio, filterSpec{"afade", []Option{{"t", "out"}, {"st", st}, {"d", num(v)}}})
		case models.EffectSpeed:
			out.video = append(out.video, filterSpec{"setpts", []Option{{"", "PTS/" + num(v)}}})
			out.audio = append(out.audio, filterSpec{"atempo", []Option{{"", num(v)}}})
			out.duration = out.duration / v
		}
	}
	return out, nil
}

// EffectiveDuration returns a segment's output length after its effect
// chain (speed changes alter it).
func EffectiveDuration(seg models.Segment) (float64, error) {
	c, err := compileEffects(seg.Effects, seg.Duration(), 1)
	if err != nil {
		return 0, err
	}
	return c.duration, nil
}

// EffectTypes returns the supported effect names, sorted.
func EffectTypes() []string {
	names := make([]string, 0, len(effectParams))
	for t := range effectParams {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// num formats seconds and factors with microsecond precision and no
// trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
