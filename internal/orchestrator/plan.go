package orchestrator

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/progress"
	"github.com/cutroom/backend/internal/storage"
)

// mainKey tracks the only pipeline of a single-stage operation.
const mainKey = "main"

// durationSlack tolerates container rounding when a range ends at the very
// end of its source.
const durationSlack = 0.05

// plan is a validated request, ready to run.
type plan struct {
	output      string
	keepPartial bool
	run         func(ctx context.Context, r *run) (*models.Result, error)
}

// run is the per-execution state handed to a plan.
type run struct {
	o           *Orchestrator
	op          *operation
	scope       *storage.Scope
	agg         *progress.Aggregator
	keepPartial bool
}

// emit publishes an operation-level event and mirrors it into the overview.
func (r *run) emit(ev models.ProgressEvent) {
	r.op.emit(r.o.sink, ev, func(delivered models.ProgressEvent) {
		r.o.overview.Update(delivered.OperationID, delivered)
	})
}

// pipeline runs one engine invocation under a global slot. Its events are
// folded into the run's aggregator under key and forwarded as operation
// progress.
func (r *run) pipeline(ctx context.Context, key string, inv ffmpeg.Invocation) error {
	select {
	case r.o.slots <- struct{}{}:
	case <-ctx.Done():
		return &apperr.Error{Kind: apperr.KindCancelled, SegmentID: inv.SegmentID, Message: "cancelled while waiting for an engine slot"}
	}
	defer func() { <-r.o.slots }()

	inv.KeepPartial = inv.KeepPartial || r.keepPartial
	p := r.o.engine.NewPipeline(r.op.info.ID)
	startErr := p.Start(ctx, inv)
	for ev := range p.Events() {
		r.agg.Update(key, ev)
		if ev.Stage != models.StageProcessing && ev.Stage != models.StageCompleted {
			continue
		}
		r.emit(models.ProgressEvent{
			Stage:     models.StageProcessing,
			SegmentID: ev.SegmentID,
			Percent:   r.agg.Snapshot().Percent,
			FPS:       ev.FPS,
			Speed:     ev.Speed,
		})
	}
	if startErr != nil {
		return startErr
	}
	return p.Wait()
}

// produce runs a single invocation into a temp with output's extension and
// hands the result off to output.
func (r *run) produce(ctx context.Context, output string, duration float64, args func(tmp string) []string) error {
	tmp, err := r.scope.Reserve(strings.ToLower(filepath.Ext(output)))
	if err != nil {
		return err
	}
	r.agg.Track(mainKey)
	if err := r.pipeline(ctx, mainKey, ffmpeg.Invocation{Args: args(tmp), OutputPath: tmp, Duration: duration}); err != nil {
		return err
	}
	if err := r.scope.MarkWritten(tmp); err != nil {
		return err
	}
	return r.scope.HandOff(tmp, output)
}

// asParams accepts a parameter struct by value or by pointer.
func asParams[T any](params any) (T, error) {
	switch v := params.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, apperr.Validationf("parameters of type %T do not match the operation", params)
}

func (o *Orchestrator) plan(id string, typ models.OperationType, params any) (*plan, error) {
	switch typ {
	case models.OperationTypeTrim:
		p, err := asParams[models.TrimParams](params)
		if err != nil {
			return nil, err
		}
		return o.planTrim(id, p)
	case models.OperationTypeMerge:
		p, err := asParams[models.MergeParams](params)
		if err != nil {
			return nil, err
		}
		return o.planMerge(id, p)
	case models.OperationTypeExtractAudio:
		p, err := asParams[models.ExtractAudioParams](params)
		if err != nil {
			return nil, err
		}
		return o.planExtractAudio(id, p)
	case models.OperationTypeReplaceAudio:
		p, err := asParams[models.ReplaceAudioParams](params)
		if err != nil {
			return nil, err
		}
		return o.planReplaceAudio(id, p)
	case models.OperationTypeRemoveAudio:
		p, err := asParams[models.RemoveAudioParams](params)
		if err != nil {
			return nil, err
		}
		return o.planRemoveAudio(id, p)
	case models.OperationTypeThumbnail:
		p, err := asParams[models.ThumbnailParams](params)
		if err != nil {
			return nil, err
		}
		return o.planThumbnail(id, p)
	case models.OperationTypeProbe:
		p, err := asParams[models.ProbeParams](params)
		if err != nil {
			return nil, err
		}
		return o.planProbe(p)
	default:
		return nil, apperr.Validationf("unknown operation type %q", typ)
	}
}

// requireKind checks that a path is set and has a supported extension of
// one of the kinds.
func requireKind(field, path string, kinds ...models.MediaKind) error {
	if strings.TrimSpace(path) == "" {
		return apperr.Validationf("%s is required", field)
	}
	if !models.HasKind(path, kinds...) {
		return apperr.Validationf("%s %q: unsupported file type %q (want %v)", field, path, filepath.Ext(path), kinds)
	}
	return nil
}

// outputPath returns the requested output, or a default one in the output
// directory derived from the source name.
func (o *Orchestrator) outputPath(id string, typ models.OperationType, requested, source, ext string, kinds ...models.MediaKind) (string, error) {
	if requested != "" {
		if err := requireKind("output", requested, kinds...); err != nil {
			return "", err
		}
		requested = filepath.Clean(requested)
		if requested == filepath.Clean(source) {
			return "", apperr.Validationf("output %q would overwrite its input", requested)
		}
		return requested, nil
	}
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(o.cfg.OutputDir, fmt.Sprintf("%s_%s_%s%s", stem, typ, id[:8], ext)), nil
}

func checkRange(start, end float64) error {
	if start < 0 || math.IsNaN(start) || math.IsInf(start, 0) {
		return apperr.Validationf("start %v must be a non-negative number of seconds", start)
	}
	if !(end > start) || math.IsInf(end, 0) {
		return apperr.Validationf("end %v must be greater than start %v", end, start)
	}
	return nil
}

// checkWithin rejects a segment that ends after its source.
func checkWithin(seg models.Segment, asset *models.MediaAsset) error {
	if asset.Duration > 0 && seg.End > asset.Duration+durationSlack {
		return &apperr.Error{
			Kind:      apperr.KindValidation,
			SegmentID: seg.ID,
			Message:   fmt.Sprintf("end %v is past the end of %s (%v s)", seg.End, seg.Source, asset.Duration),
		}
	}
	return nil
}

func (o *Orchestrator) keep(requested bool) bool {
	return o.cfg.KeepPartial || requested
}

func (o *Orchestrator) planTrim(id string, p models.TrimParams) (*plan, error) {
	if err := requireKind("input", p.Input, models.MediaKindVideo, models.MediaKindAudio); err != nil {
		return nil, err
	}
	if err := checkRange(p.Start, p.End); err != nil {
		return nil, err
	}
	audioOnly := models.HasKind(p.Input, models.MediaKindAudio)
	if audioOnly && p.Reencode() {
		return nil, apperr.Validationf("quality and effects need a video input, %q is audio", p.Input)
	}
	for _, e := range p.Effects {
		if err := filtergraph.ValidateEffect(e); err != nil {
			return nil, err
		}
	}

	var profile models.EncodeProfile
	if p.Reencode() {
		var err error
		if profile, err = o.resolver.ResolveDefaults(p.Quality, p.Resolution, p.BitrateMbps); err != nil {
			return nil, err
		}
	}

	kind, _ := models.KindOfPath(p.Input)
	ext := strings.ToLower(filepath.Ext(p.Input))
	output, err := o.outputPath(id, models.OperationTypeTrim, p.Output, p.Input, ext, kind)
	if err != nil {
		return nil, err
	}

	seg := models.Segment{ID: "trim", Source: p.Input, Start: p.Start, End: p.End, Effects: p.Effects}
	if p.Reencode() {
		// Static effect errors surface now, before anything runs.
		if _, err := filtergraph.NewBuilder(filtergraph.Options{Audio: true}).BuildSegment(seg); err != nil {
			return nil, err
		}
	}

	return &plan{
		output:      output,
		keepPartial: o.keep(p.KeepPartial),
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			asset, err := o.engine.Probe(ctx, p.Input)
			if err != nil {
				return nil, err
			}
			if err := checkWithin(seg, asset); err != nil {
				return nil, err
			}

			duration := seg.Duration()
			var args func(string) []string
			if !p.Reencode() {
				args = func(tmp string) []string { return ffmpeg.CopyTrimArgs(p.Input, tmp, p.Start, p.End) }
			} else {
				spec, err := o.segmentBuilder(profile, asset, nil).BuildSegment(seg)
				if err != nil {
					return nil, err
				}
				duration = spec.Duration
				args = func(tmp string) []string { return ffmpeg.EncodeArgs(spec, profile, tmp) }
			}

			if err := r.produce(ctx, output, duration, args); err != nil {
				return nil, err
			}
			return &models.Result{
				Success:      true,
				OperationID:  id,
				Type:         models.OperationTypeTrim,
				OutputPath:   output,
				Duration:     duration,
				SegmentCount: 1,
			}, nil
		},
	}, nil
}

// segmentBuilder returns the builder for encoding one source with profile.
// A nil target keeps the profile's size, if any.
func (o *Orchestrator) segmentBuilder(profile models.EncodeProfile, asset *models.MediaAsset, target *filtergraph.Format) *filtergraph.Builder {
	height := profile.Height
	if target == nil && !profile.KeepsSourceSize() {
		target = &filtergraph.Format{Width: profile.Width, Height: profile.Height}
	}
	if height == 0 && asset.Video != nil {
		height = asset.Video.Height
	}
	return filtergraph.NewBuilder(filtergraph.Options{
		Normalize:   target,
		Audio:       asset.HasAudio,
		EffectScale: o.resolver.EffectScale(height),
	})
}

func (o *Orchestrator) planExtractAudio(id string, p models.ExtractAudioParams) (*plan, error) {
	if err := requireKind("input", p.Input, models.MediaKindVideo, models.MediaKindAudio); err != nil {
		return nil, err
	}

	format := strings.TrimPrefix(strings.ToLower(p.Format), ".")
	if p.Output != "" {
		outFormat := strings.TrimPrefix(strings.ToLower(filepath.Ext(p.Output)), ".")
		if format == "" {
			format = outFormat
		} else if format != outFormat {
			return nil, apperr.Validationf("format %q does not match output %q", format, p.Output)
		}
	}
	if format == "" {
		format = "mp3"
	}
	if _, ok := ffmpeg.AudioCodec(format); !ok {
		return nil, apperr.Validationf("unsupported audio format %q", format)
	}

	output, err := o.outputPath(id, models.OperationTypeExtractAudio, p.Output, p.Input, "."+format, models.MediaKindAudio)
	if err != nil {
		return nil, err
	}

	return &plan{
		output:      output,
		keepPartial: o.keep(p.KeepPartial),
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			asset, err := o.engine.Probe(ctx, p.Input)
			if err != nil {
				return nil, err
			}
			if !asset.HasAudio {
				return nil, apperr.Validationf("%s has no audio stream", p.Input)
			}
			err = r.produce(ctx, output, asset.Duration, func(tmp string) []string {
				return ffmpeg.ExtractAudioArgs(p.Input, tmp, format)
			})
			if err != nil {
				return nil, err
			}
			return &models.Result{
				Success:     true,
				OperationID: id,
				Type:        models.OperationTypeExtractAudio,
				OutputPath:  output,
				Duration:    asset.Duration,
				Format:      format,
			}, nil
		},
	}, nil
}

func (o *Orchestrator) planReplaceAudio(id string, p models.ReplaceAudioParams) (*plan, error) {
	if err := requireKind("video", p.Video, models.MediaKindVideo); err != nil {
		return nil, err
	}
	if err := requireKind("audio", p.Audio, models.MediaKindAudio, models.MediaKindVideo); err != nil {
		return nil, err
	}

	var mix *filtergraph.Spec
	if p.Mix {
		vv, av := p.VideoVolume, p.AudioVolume
		if vv == 0 {
			vv = 1
		}
		if av == 0 {
			av = 1
		}
		var err error
		if mix, err = filtergraph.MixAudio(vv, av); err != nil {
			return nil, err
		}
	}

	ext := strings.ToLower(filepath.Ext(p.Video))
	output, err := o.outputPath(id, models.OperationTypeReplaceAudio, p.Output, p.Video, ext, models.MediaKindVideo)
	if err != nil {
		return nil, err
	}
	if output == filepath.Clean(p.Audio) {
		return nil, apperr.Validationf("output %q would overwrite its input", output)
	}

	return &plan{
		output:      output,
		keepPartial: o.keep(p.KeepPartial),
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			video, err := o.engine.Probe(ctx, p.Video)
			if err != nil {
				return nil, err
			}
			if !video.HasVideo {
				return nil, apperr.Validationf("%s has no video stream", p.Video)
			}
			audio, err := o.engine.Probe(ctx, p.Audio)
			if err != nil {
				return nil, err
			}
			if !audio.HasAudio {
				return nil, apperr.Validationf("%s has no audio stream", p.Audio)
			}

			duration := video.Duration
			args := func(tmp string) []string { return ffmpeg.MixAudioArgs(p.Video, p.Audio, tmp, mix) }
			if mix == nil {
				duration = math.Min(video.Duration, audio.Duration)
				args = func(tmp string) []string { return ffmpeg.ReplaceAudioArgs(p.Video, p.Audio, tmp) }
			}
			if err := r.produce(ctx, output, duration, args); err != nil {
				return nil, err
			}
			return &models.Result{
				Success:     true,
				OperationID: id,
				Type:        models.OperationTypeReplaceAudio,
				OutputPath:  output,
				Duration:    duration,
			}, nil
		},
	}, nil
}

func (o *Orchestrator) planRemoveAudio(id string, p models.RemoveAudioParams) (*plan, error) {
	if err := requireKind("input", p.Input, models.MediaKindVideo); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(p.Input))
	output, err := o.outputPath(id, models.OperationTypeRemoveAudio, p.Output, p.Input, ext, models.MediaKindVideo)
	if err != nil {
		return nil, err
	}

	return &plan{
		output:      output,
		keepPartial: o.keep(p.KeepPartial),
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			asset, err := o.engine.Probe(ctx, p.Input)
			if err != nil {
				return nil, err
			}
			if !asset.HasVideo {
				return nil, apperr.Validationf("%s has no video stream", p.Input)
			}
			err = r.produce(ctx, output, asset.Duration, func(tmp string) []string {
				return ffmpeg.RemoveAudioArgs(p.Input, tmp)
			})
			if err != nil {
				return nil, err
			}
			return &models.Result{
				Success:     true,
				OperationID: id,
				Type:        models.OperationTypeRemoveAudio,
				OutputPath:  output,
				Duration:    asset.Duration,
			}, nil
		},
	}, nil
}

const maxThumbnailWidth = 7680

func (o *Orchestrator) planThumbnail(id string, p models.ThumbnailParams) (*plan, error) {
	if err := requireKind("input", p.Input, models.MediaKindVideo); err != nil {
		return nil, err
	}
	if p.Time < 0 || math.IsNaN(p.Time) || math.IsInf(p.Time, 0) {
		return nil, apperr.Validationf("time %v must be a non-negative number of seconds", p.Time)
	}
	if p.Width < 0 || p.Width > maxThumbnailWidth {
		return nil, apperr.Validationf("width %d out of range [0, %d]", p.Width, maxThumbnailWidth)
	}
	output, err := o.outputPath(id, models.OperationTypeThumbnail, p.Output, p.Input, ".jpg", models.MediaKindImage)
	if err != nil {
		return nil, err
	}

	return &plan{
		output: output,
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			asset, err := o.engine.Probe(ctx, p.Input)
			if err != nil {
				return nil, err
			}
			if !asset.HasVideo {
				return nil, apperr.Validationf("%s has no video stream", p.Input)
			}
			if asset.Duration > 0 && p.Time >= asset.Duration {
				return nil, apperr.Validationf("time %v is past the end of %s (%v s)", p.Time, p.Input, asset.Duration)
			}
			// A single frame reports no useful progress.
			err = r.produce(ctx, output, 0, func(tmp string) []string {
				return ffmpeg.ThumbnailArgs(p.Input, tmp, p.Time, p.Width)
			})
			if err != nil {
				return nil, err
			}
			return &models.Result{
				Success:     true,
				OperationID: id,
				Type:        models.OperationTypeThumbnail,
				OutputPath:  output,
			}, nil
		},
	}, nil
}

func (o *Orchestrator) planProbe(p models.ProbeParams) (*plan, error) {
	if err := requireKind("input", p.Input, models.MediaKindVideo, models.MediaKindAudio, models.MediaKindImage); err != nil {
		return nil, err
	}
	return &plan{
		run: func(ctx context.Context, r *run) (*models.Result, error) {
			asset, err := o.engine.Probe(ctx, p.Input)
			if err != nil {
				return nil, err
			}
			return &models.Result{
				Success:     true,
				OperationID: r.op.info.ID,
				Type:        models.OperationTypeProbe,
				Duration:    asset.Duration,
				Format:      asset.FormatName,
				Asset:       asset,
			}, nil
		},
	}, nil
}

// Probe inspects a media file directly, outside of any operation.
func (o *Orchestrator) Probe(ctx context.Context, path string) (*models.MediaAsset, error) {
	if err := requireKind("input", path, models.MediaKindVideo, models.MediaKindAudio, models.MediaKindImage); err != nil {
		return nil, err
	}
	return o.engine.Probe(ctx, path)
}
