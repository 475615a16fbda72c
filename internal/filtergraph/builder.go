package filtergraph

import (
	"fmt"
	"math"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

const (
	// Labels of the final streams handed to -map.
	VideoOut = "vout"
	AudioOut = "aout"

	defaultSampleRate = 48000
)

// Format is the common stream format segments are normalized to before they
// are joined. Zero Width/Height keeps the source size; zero FPS keeps the
// source rate.
type Format struct {
	Width      int
	Height     int
	FPS        float64
	SampleRate int
}

// Options configure a Builder.
type Options struct {
	// Normalize, when set, scales/pads/retimes every segment to one format.
	Normalize *Format
	// Audio includes audio streams; when false the graph is video only.
	Audio bool
	// EffectScale multiplies pixel-sized effect parameters (see
	// profile.Resolver.EffectScale). Zero means 1.
	EffectScale float64
}

// Input is one engine input referenced by a Spec, in input-index order.
type Input struct {
	SegmentID string
	Path      string
	Start     float64
	End       float64
}

// Spec is the builder's result.
type Spec struct {
	// Bypass is set for a single segment with nothing to do in a graph; the
	// segment is handed off directly and Graph is nil.
	Bypass   bool
	Graph    *Graph
	Inputs   []Input
	VideoOut string
	AudioOut string
	// Duration is the expected output length in seconds.
	Duration float64
}

// FilterComplex returns the serialized graph, or "" for a bypass spec.
func (s *Spec) FilterComplex() string {
	if s == nil || s.Graph == nil {
		return ""
	}
	return s.Graph.String()
}

// Builder turns segments and transitions into filter graphs.
type Builder struct {
	opts Options
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	if opts.EffectScale <= 0 {
		opts.EffectScale = 1
	}
	return &Builder{opts: opts}
}

// Build produces the graph that joins segments in order. With no
// transitions a single concat node joins every segment; with len(segments)-1
// transitions adjacent segments are chained through crossfades. A single
// segment yields a bypass spec and no graph.
func (b *Builder) Build(segments []models.Segment, transitions []models.Transition) (*Spec, error) {
	if len(segments) == 0 {
		return nil, apperr.Compositionf("at least one segment is required")
	}
	if len(transitions) != 0 && len(transitions) != len(segments)-1 {
		return nil, apperr.Compositionf("got %d transitions for %d segments, want 0 or %d",
			len(transitions), len(segments), len(segments)-1)
	}

	inputs := make([]Input, len(segments))
	durations := make([]float64, len(segments))
	chains := make([]compiled, len(segments))
	for i, seg := range segments {
		if err := checkSegment(seg); err != nil {
			return nil, err
		}
		c, err := compileEffects(seg.Effects, seg.Duration(), b.opts.EffectScale)
		if err != nil {
			return nil, apperr.WithSegment(err, seg.ID)
		}
		chains[i] = c
		durations[i] = c.duration
		inputs[i] = Input{SegmentID: seg.ID, Path: seg.Source, Start: seg.Start, End: seg.End}
	}

	if len(segments) == 1 {
		return &Spec{Bypass: true, Inputs: inputs, Duration: durations[0]}, nil
	}

	for i, t := range transitions {
		if err := checkTransition(t, i, durations[i], durations[i+1]); err != nil {
			return nil, err
		}
	}

	g := &Graph{}
	videoPads := make([]Pad, len(segments))
	audioPads := make([]Pad, len(segments))
	for i := range segments {
		videoPads[i], audioPads[i] = b.chain(g, i, chains[i])
	}

	spec := &Spec{Graph: g, Inputs: inputs, VideoOut: VideoOut}
	if b.opts.Audio {
		spec.AudioOut = AudioOut
	}

	if len(transitions) == 0 {
		spec.Duration = b.concat(g, videoPads, audioPads, durations)
	} else {
		spec.Duration = b.crossfade(g, videoPads, audioPads, durations, transitions)
	}

	if err := g.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindComposition, err, "invalid filter graph")
	}
	return spec, nil
}

// BuildSegment produces the single-input graph that applies one segment's
// effects (and normalization) during preparation. It bypasses when there is
// nothing to apply.
func (b *Builder) BuildSegment(seg models.Segment) (*Spec, error) {
	if err := checkSegment(seg); err != nil {
		return nil, err
	}
	c, err := compileEffects(seg.Effects, seg.Duration(), b.opts.EffectScale)
	if err != nil {
		return nil, apperr.WithSegment(err, seg.ID)
	}

	input := Input{SegmentID: seg.ID, Path: seg.Source, Start: seg.Start, End: seg.End}
	if len(c.video) == 0 && len(c.audio) == 0 && b.opts.Normalize == nil {
		return &Spec{Bypass: true, Inputs: []Input{input}, Duration: c.duration}, nil
	}

	g := &Graph{}
	v, a := b.chain(g, 0, c)

	spec := &Spec{Graph: g, Inputs: []Input{input}, Duration: c.duration}
	spec.VideoOut = terminate(g, v, VideoOut, "null")
	if b.opts.Audio {
		spec.AudioOut = terminate(g, a, AudioOut, "anull")
	}

	if err := g.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindComposition, err, "invalid filter graph")
	}
	return spec, nil
}

// MixAudio builds the graph that blends the audio of input 0 with input 1.
// Volumes are linear gains in [0, 2].
func MixAudio(videoVolume, audioVolume float64) (*Spec, error) {
	for _, v := range []float64{videoVolume, audioVolume} {
		if v < 0 || v > 2 || math.IsNaN(v) {
			return nil, apperr.Validationf("volume %v out of range [0, 2]", v)
		}
	}

	g := &Graph{}
	a0 := Pad{Label: "a0", Kind: Audio}
	a1 := Pad{Label: "a1", Kind: Audio}
	g.Add("volume", []Pad{SourcePad(0, Audio)}, []Pad{a0}, Option{"", num(videoVolume)})
	g.Add("volume", []Pad{SourcePad(1, Audio)}, []Pad{a1}, Option{"", num(audioVolume)})
	g.Add("amix", []Pad{a0, a1}, []Pad{{Label: AudioOut, Kind: Audio}},
		Option{"inputs", "2"}, Option{"duration", "first"}, Option{"dropout_transition", "0"})

	if err := g.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindComposition, err, "invalid filter graph")
	}
	return &Spec{Graph: g, AudioOut: AudioOut}, nil
}

// chain wires segment i's effect and normalization filters, returning the
// last video and audio pads.
func (b *Builder) chain(g *Graph, i int, c compiled) (Pad, Pad) {
	video := c.video
	audio := c.audio
	if f := b.opts.Normalize; f != nil {
		video = append(append([]filterSpec(nil), video...), normalizeVideo(*f)...)
		audio = append(append([]filterSpec(nil), audio...), normalizeAudio(*f)...)
	}

	v := SourcePad(i, Video)
	for k, f := range video {
		out := Pad{Label: fmt.Sprintf("v%d_%d", i, k), Kind: Video}
		g.Add(f.name, []Pad{v}, []Pad{out}, f.opts...)
		v = out
	}

	a := SourcePad(i, Audio)
	if !b.opts.Audio {
		return v, Pad{}
	}
	for k, f := range audio {
		out := Pad{Label: fmt.Sprintf("a%d_%d", i, k), Kind: Audio}
		g.Add(f.name, []Pad{a}, []Pad{out}, f.opts...)
		a = out
	}
	return v, a
}

func (b *Builder) concat(g *Graph, videoPads, audioPads []Pad, durations []float64) float64 {
	inputs := make([]Pad, 0, len(videoPads)*2)
	for i := range videoPads {
		inputs = append(inputs, videoPads[i])
		if b.opts.Audio {
			inputs = append(inputs, audioPads[i])
		}
	}

	outputs := []Pad{{Label: VideoOut, Kind: Video}}
	a := "0"
	if b.opts.Audio {
		outputs = append(outputs, Pad{Label: AudioOut, Kind: Audio})
		a = "1"
	}
	g.Add("concat", inputs, outputs,
		Option{"n", fmt.Sprint(len(videoPads))}, Option{"v", "1"}, Option{"a", a})

	total := 0.0
	for _, d := range durations {
		total += d
	}
	return total
}

// crossfade chains xfade (and acrossfade) nodes left to right. The offset of
// transition i is the running length of the joined output so far minus the
// transition's overlap.
func (b *Builder) crossfade(g *Graph, videoPads, audioPads []Pad, durations []float64, transitions []models.Transition) float64 {
	prevV, prevA := videoPads[0], audioPads[0]
	running := durations[0]

	for i, t := range transitions {
		last := i == len(transitions)-1
		outV := Pad{Label: fmt.Sprintf("xv%d", i), Kind: Video}
		outA := Pad{Label: fmt.Sprintf("xa%d", i), Kind: Audio}
		if last {
			outV.Label = VideoOut
			outA.Label = AudioOut
		}

		offset := running - t.Duration
		g.Add("xfade", []Pad{prevV, videoPads[i+1]}, []Pad{outV},
			Option{"transition", "fade"}, Option{"duration", num(t.Duration)}, Option{"offset", num(offset)})
		if b.opts.Audio {
			g.Add("acrossfade", []Pad{prevA, audioPads[i+1]}, []Pad{outA}, Option{"d", num(t.Duration)})
		}

		prevV, prevA = outV, outA
		running += durations[i+1] - t.Duration
	}
	return running
}

// terminate renames the last pad of a chain to label, inserting a
// passthrough filter when the chain is empty (pad is still a source).
func terminate(g *Graph, p Pad, label, passthrough string) string {
	out := Pad{Label: label, Kind: p.Kind}
	if p.IsSource() {
		g.Add(passthrough, []Pad{p}, []Pad{out})
		return label
	}
	for _, n := range g.Nodes {
		for i := range n.Outputs {
			if n.Outputs[i].Label == p.Label {
				n.Outputs[i].Label = label
			}
		}
	}
	return label
}

func normalizeVideo(f Format) []filterSpec {
	var specs []filterSpec
	if f.Width > 0 && f.Height > 0 {
		w, h := fmt.Sprint(f.Width), fmt.Sprint(f.Height)
		specs = append(specs,
			filterSpec{"scale", []Option{{"w", w}, {"h", h}, {"force_original_aspect_ratio", "decrease"}}},
			filterSpec{"pad", []Option{{"w", w}, {"h", h}, {"x", "(ow-iw)/2"}, {"y", "(oh-ih)/2"}}},
		)
	}
	specs = append(specs, filterSpec{"setsar", []Option{{"", "1"}}})
	if f.FPS > 0 {
		specs = append(specs, filterSpec{"fps", []Option{{"", num(f.FPS)}}})
	}
	return append(specs, filterSpec{"format", []Option{{"", "yuv420p"}}})
}

func normalizeAudio(f Format) []filterSpec {
	rate := f.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	return []filterSpec{{"aformat", []Option{{"sample_rates", fmt.Sprint(rate)}, {"channel_layouts", "stereo"}}}}
}

func checkSegment(seg models.Segment) error {
	if seg.Start < 0 || math.IsNaN(seg.Start) {
		return &apperr.Error{Kind: apperr.KindComposition, SegmentID: seg.ID, Message: fmt.Sprintf("start %v must be >= 0", seg.Start)}
	}
	if !(seg.End > seg.Start) || math.IsInf(seg.End, 0) {
		return &apperr.Error{Kind: apperr.KindComposition, SegmentID: seg.ID, Message: fmt.Sprintf("end %v must be greater than start %v", seg.End, seg.Start)}
	}
	return nil
}

func checkTransition(t models.Transition, i int, left, right float64) error {
	if t.Type != models.TransitionCrossfade {
		return apperr.Compositionf("transition %d: unknown type %q", i, t.Type)
	}
	if !(t.Duration > 0) {
		return apperr.Compositionf("transition %d: duration must be > 0, got %v", i, t.Duration)
	}
	if t.Duration >= left || t.Duration >= right {
		return apperr.Compositionf("transition %d: duration %v must be shorter than both adjacent segments (%v, %v)",
			i, t.Duration, num(left), num(right))
	}
	return nil
}
