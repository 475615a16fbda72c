package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
)

// finalKey tracks the joining stage of a multi-segment merge.
const finalKey = "final"

// prepared is one segment after the preparation stage.
type prepared struct {
	seg      models.Segment
	path     string
	duration float64
}

func (o *Orchestrator) planMerge(id string, p models.MergeParams) (*plan, error) {
	if len(p.Segments) == 0 {
		return nil, apperr.Validationf("at least one segment is required")
	}

	segments := make([]models.Segment, len(p.Segments))
	seen := make(map[string]bool, len(p.Segments))
	for i, seg := range p.Segments {
		if seg.ID == "" {
			seg.ID = fmt.Sprintf("segment-%d", i+1)
		}
		if seen[seg.ID] {
			return nil, apperr.Validationf("duplicate segment id %q", seg.ID)
		}
		seen[seg.ID] = true

		if err := requireKind("source", seg.Source, models.MediaKindVideo); err != nil {
			return nil, apperr.WithSegment(err, seg.ID)
		}
		if err := checkRange(seg.Start, seg.End); err != nil {
			return nil, apperr.WithSegment(err, seg.ID)
		}
		for _, e := range seg.Effects {
			if err := filtergraph.ValidateEffect(e); err != nil {
				return nil, apperr.WithSegment(err, seg.ID)
			}
		}
		segments[i] = seg
	}

	profile, err := o.resolver.ResolveDefaults(p.Quality, p.Resolution, p.BitrateMbps)
	if err != nil {
		return nil, err
	}

	// Composition errors (transition count, durations) surface before
	// anything is spawned.
	if _, err := filtergraph.NewBuilder(filtergraph.Options{Audio: true}).Build(segments, p.Transitions); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(segments[0].Source))
	output, err := o.outputPath(id, models.OperationTypeMerge, p.Output, segments[0].Source, ext, models.MediaKindVideo)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		if filepath.Clean(seg.Source) == output {
			return nil, apperr.Validationf("output %q would overwrite its input", output)
		}
	}

	m := &merge{
		o:           o,
		id:          id,
		segments:    segments,
		transitions: p.Transitions,
		profile:     profile,
		output:      output,
	}
	return &plan{output: output, keepPartial: o.keep(p.KeepPartial), run: m.run}, nil
}

// merge runs in two stages: every segment is cut (and, when needed,
// filtered and normalized) to its own temp in parallel, then the temps are
// joined by concat or crossfade into the output.
type merge struct {
	o           *Orchestrator
	id          string
	segments    []models.Segment
	transitions []models.Transition
	profile     models.EncodeProfile
	output      string
}

func (m *merge) run(ctx context.Context, r *run) (*models.Result, error) {
	assets := make([]*models.MediaAsset, len(m.segments))
	hasAudio := true
	for i, seg := range m.segments {
		asset, err := m.o.engine.Probe(ctx, seg.Source)
		if err != nil {
			return nil, apperr.WithSegment(err, seg.ID)
		}
		if !asset.HasVideo {
			return nil, &apperr.Error{Kind: apperr.KindValidation, SegmentID: seg.ID, Message: fmt.Sprintf("%s has no video stream", seg.Source)}
		}
		if err := checkWithin(seg, asset); err != nil {
			return nil, err
		}
		hasAudio = hasAudio && asset.HasAudio
		assets[i] = asset
	}

	multi := len(m.segments) > 1
	var target *filtergraph.Format
	if multi {
		target = m.target(assets[0])
		r.agg.Track(finalKey)
	}
	for _, seg := range m.segments {
		r.agg.Track(seg.ID)
	}

	parts := make([]prepared, len(m.segments))
	p := pool.New().
		WithMaxGoroutines(m.o.cfg.MaxConcurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i := range m.segments {
		p.Go(func(ctx context.Context) error {
			part, err := m.prepare(ctx, r, m.segments[i], assets[i], target, hasAudio, multi)
			if err != nil {
				return apperr.WithSegment(err, m.segments[i].ID)
			}
			parts[i] = part
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	duration := parts[0].duration
	if !multi {
		if err := r.scope.HandOff(parts[0].path, m.output); err != nil {
			return nil, err
		}
	} else {
		var err error
		if duration, err = m.join(ctx, r, parts, hasAudio); err != nil {
			return nil, err
		}
	}

	return &models.Result{
		Success:      true,
		OperationID:  m.id,
		Type:         models.OperationTypeMerge,
		OutputPath:   m.output,
		Duration:     duration,
		SegmentCount: len(m.segments),
	}, nil
}

// target is the common format of a multi-segment merge: the profile's size,
// or the first source's, at the first source's frame rate.
func (m *merge) target(first *models.MediaAsset) *filtergraph.Format {
	f := &filtergraph.Format{Width: m.profile.Width, Height: m.profile.Height}
	if first.Video != nil {
		if m.profile.KeepsSourceSize() {
			f.Width, f.Height = first.Video.Width, first.Video.Height
		}
		f.FPS = first.Video.FPS
	}
	if f.FPS <= 0 {
		f.FPS = ffmpeg.DefaultFrameRate
	}
	return f
}

// prepare cuts one segment to a temp. A segment with nothing to filter is
// stream-copied.
func (m *merge) prepare(ctx context.Context, r *run, seg models.Segment, asset *models.MediaAsset, target *filtergraph.Format, hasAudio, multi bool) (prepared, error) {
	ext := ".mp4"
	if !multi {
		ext = strings.ToLower(filepath.Ext(m.output))
	}
	tmp, err := r.scope.Reserve(ext)
	if err != nil {
		return prepared{}, err
	}

	var b *filtergraph.Builder
	if multi {
		b = filtergraph.NewBuilder(filtergraph.Options{
			Normalize:   target,
			Audio:       hasAudio,
			EffectScale: m.o.resolver.EffectScale(target.Height),
		})
	} else {
		b = m.o.segmentBuilder(m.profile, asset, nil)
	}
	spec, err := b.BuildSegment(seg)
	if err != nil {
		return prepared{}, err
	}

	var args []string
	if spec.Bypass {
		args = ffmpeg.CopyTrimArgs(seg.Source, tmp, seg.Start, seg.End)
	} else {
		args = ffmpeg.EncodeArgs(spec, m.profile, tmp)
	}

	inv := ffmpeg.Invocation{Args: args, OutputPath: tmp, Duration: spec.Duration, SegmentID: seg.ID}
	if err := r.pipeline(ctx, seg.ID, inv); err != nil {
		return prepared{}, err
	}
	if err := r.scope.MarkWritten(tmp); err != nil {
		return prepared{}, err
	}
	return prepared{seg: seg, path: tmp, duration: spec.Duration}, nil
}

// join concatenates or crossfades the prepared temps into the output.
func (m *merge) join(ctx context.Context, r *run, parts []prepared, hasAudio bool) (float64, error) {
	inputs := make([]models.Segment, len(parts))
	for i, part := range parts {
		inputs[i] = models.Segment{ID: part.seg.ID, Source: part.path, Start: 0, End: part.duration}
	}
	spec, err := filtergraph.NewBuilder(filtergraph.Options{Audio: hasAudio}).Build(inputs, m.transitions)
	if err != nil {
		return 0, err
	}

	tmp, err := r.scope.Reserve(strings.ToLower(filepath.Ext(m.output)))
	if err != nil {
		return 0, err
	}
	inv := ffmpeg.Invocation{Args: ffmpeg.EncodeArgs(spec, m.profile, tmp), OutputPath: tmp, Duration: spec.Duration}
	if err := r.pipeline(ctx, finalKey, inv); err != nil {
		return 0, err
	}
	if err := r.scope.MarkWritten(tmp); err != nil {
		return 0, err
	}
	if err := r.scope.HandOff(tmp, m.output); err != nil {
		return 0, err
	}
	for _, part := range parts {
		if err := r.scope.Release(part.path); err != nil {
			return 0, err
		}
	}
	return spec.Duration, nil
}
