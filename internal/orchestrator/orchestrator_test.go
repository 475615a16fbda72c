package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/progress"
	"github.com/cutroom/backend/internal/storage"
)

const fakeProbe = `cat <<'EOF'
{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720,
     "r_frame_rate": "25/1", "avg_frame_rate": "25/1", "disposition": {"attached_pic": 0}},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2,
     "r_frame_rate": "0/0", "avg_frame_rate": "0/0"}
  ],
  "format": {"filename": "clip.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10.000000"}
}
EOF
`

// fakeEngine fails on inputs named *__boom__*, hangs on *__hang__* and
// otherwise reports some progress and writes its output.
const fakeEngine = `case "$*" in
*__boom__*)
  echo 'clip__boom__.mp4: Invalid data found when processing input' >&2
  exit 1 ;;
*__hang__*)
  exec sleep 30 ;;
esac
printf 'frame=10 fps=25 q=28.0 size=1kB time=00:00:01.00 bitrate=1kbits/s speed=2.0x\n' >&2
printf 'frame=50 fps=25 q=28.0 size=2kB time=00:00:02.50 bitrate=1kbits/s speed=2.0x\n' >&2
printf 'x' > "$last"
exit 0
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nfor last; do :; done\n"+body), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type fixture struct {
	o       *Orchestrator
	engine  *ffmpeg.Executor
	temps   *storage.TempRegistry
	tempDir string
	outDir  string
	srcDir  string

	mu   sync.Mutex
	sunk []models.ProgressEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConcurrency(t, 2)
}

func newFixtureWithConcurrency(t *testing.T, maxConcurrency int) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts need a POSIX shell")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		tempDir: filepath.Join(root, "temp"),
		outDir:  filepath.Join(root, "outputs"),
		srcDir:  filepath.Join(root, "sources"),
	}
	f.engine = ffmpeg.NewExecutor(ffmpeg.Options{
		FFmpegPath:  writeScript(t, bin, "ffmpeg", fakeEngine),
		FFprobePath: writeScript(t, bin, "ffprobe", fakeProbe),
	}, zap.NewNop())
	f.temps = storage.NewTempRegistry(f.tempDir, zap.NewNop())
	sink := SinkFunc(func(ev models.ProgressEvent) {
		f.mu.Lock()
		f.sunk = append(f.sunk, ev)
		f.mu.Unlock()
	})
	f.o = New(f.engine, f.temps, sink, zap.NewNop(), Config{MaxConcurrency: maxConcurrency, OutputDir: f.outDir})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		f.o.Shutdown(ctx)
	})
	return f
}

func (f *fixture) src(name string) string {
	return filepath.Join(f.srcDir, name)
}

// events subscribes to id and returns a function that blocks until the
// terminal event.
func (f *fixture) events(t *testing.T, id string) func() []models.ProgressEvent {
	t.Helper()
	ch := make(chan models.ProgressEvent, 1024)
	if _, err := f.o.Subscribe(id, func(ev models.ProgressEvent) { ch <- ev }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return func() []models.ProgressEvent {
		t.Helper()
		var out []models.ProgressEvent
		timeout := time.After(15 * time.Second)
		for {
			select {
			case ev := <-ch:
				out = append(out, ev)
				if ev.Stage.Terminal() {
					return out
				}
			case <-timeout:
				t.Fatalf("no terminal event, got %d events", len(out))
			}
		}
	}
}

func (f *fixture) wait(t *testing.T, id string) (*models.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return f.o.Wait(ctx, id)
}

func assertStream(t *testing.T, events []models.ProgressEvent, terminal models.ProgressStage) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	if events[0].Stage != models.StageStarted {
		t.Errorf("first stage = %s, want %s", events[0].Stage, models.StageStarted)
	}
	last := -1.0
	terminals := 0
	for _, ev := range events {
		if ev.Percent < last {
			t.Errorf("percent regressed from %v to %v", last, ev.Percent)
		}
		last = ev.Percent
		if ev.Stage.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal events, want 1", terminals)
	}
	if got := events[len(events)-1].Stage; got != terminal {
		t.Errorf("last stage = %s, want %s", got, terminal)
	}
}

func (f *fixture) assertNoTemps(t *testing.T) {
	t.Helper()
	if n := f.temps.OutstandingCount(); n != 0 {
		t.Errorf("OutstandingCount() = %d, want 0", n)
	}
	entries, _ := os.ReadDir(f.tempDir)
	if len(entries) != 0 {
		t.Errorf("temp directory holds %d files, want 0", len(entries))
	}
}

func TestTrimCopy(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "cut.mp4")

	id, err := f.o.Submit(context.Background(), models.OperationTypeTrim, models.TrimParams{
		Input: f.src("clip.mp4"), Output: out, Start: 2, End: 7,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collect := f.events(t, id)

	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.OutputPath != out || result.Duration != 5 {
		t.Errorf("result = %+v", result)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "x" {
		t.Errorf("output = %q, %v", data, err)
	}

	events := collect()
	assertStream(t, events, models.StageCompleted)
	if last := events[len(events)-1]; last.Percent != 100 {
		t.Errorf("completed percent = %v", last.Percent)
	}
	f.assertNoTemps(t)

	op, _ := f.o.Get(id)
	if op.State != models.OperationStateCompleted || op.CompletedAt == nil {
		t.Errorf("operation = %+v", op)
	}
}

func TestTrimDefaultOutput(t *testing.T) {
	f := newFixture(t)
	id, err := f.o.Submit(context.Background(), models.OperationTypeTrim, &models.TrimParams{
		Input: f.src("clip.mov"), Start: 0, End: 1,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	want := filepath.Join(f.outDir, "clip_trim_"+id[:8]+".mov")
	if result.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, want)
	}
}

func TestMergeSegmentFailure(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "merged.mp4")

	id, err := f.o.Submit(context.Background(), models.OperationTypeMerge, models.MergeParams{
		Segments: []models.Segment{
			{ID: "a", Source: f.src("a.mp4"), Start: 0, End: 5},
			{ID: "b", Source: f.src("b__boom__.mp4"), Start: 0, End: 5},
			{ID: "c", Source: f.src("c.mp4"), Start: 0, End: 5},
		},
		Output: out,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collect := f.events(t, id)

	_, err = f.wait(t, id)
	if !errors.Is(err, apperr.EngineRuntime) {
		t.Fatalf("Wait() error = %v, want engine runtime error", err)
	}
	var e *apperr.Error
	if !errors.As(err, &e) || e.SegmentID != "b" || e.OperationID != id {
		t.Errorf("error = %#v, want segment b of %s", e, id)
	}

	events := collect()
	assertStream(t, events, models.StageError)
	if last := events[len(events)-1]; last.SegmentID != "b" {
		t.Errorf("error event segment = %q", last.SegmentID)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output exists after failure: %v", err)
	}
	f.assertNoTemps(t)

	op, _ := f.o.Get(id)
	if op.State != models.OperationStateFailed || op.ErrorKind != string(apperr.KindEngineRuntime) {
		t.Errorf("operation = %+v", op)
	}
}

func TestMergeFailureCancelsRunningSiblings(t *testing.T) {
	f := newFixtureWithConcurrency(t, 3)
	out := filepath.Join(f.outDir, "merged.mp4")

	start := time.Now()
	id, err := f.o.Submit(context.Background(), models.OperationTypeMerge, models.MergeParams{
		Segments: []models.Segment{
			{ID: "a", Source: f.src("a.mp4"), Start: 0, End: 5},
			{ID: "b", Source: f.src("b__boom__.mp4"), Start: 0, End: 5},
			{ID: "c", Source: f.src("c__hang__.mp4"), Start: 0, End: 5},
		},
		Output: out,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collect := f.events(t, id)

	_, err = f.wait(t, id)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("merge took %v, the hanging segment was not cancelled", elapsed)
	}
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind != apperr.KindEngineRuntime || e.SegmentID != "b" {
		t.Fatalf("Wait() error = %v, want the engine runtime error of segment b", err)
	}

	events := collect()
	assertStream(t, events, models.StageError)
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output exists after failure: %v", err)
	}
	f.assertNoTemps(t)
	if running := f.engine.Running(); len(running) != 0 {
		t.Errorf("engine processes still running: %v", running)
	}
}

func TestMergeCrossfade(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "merged.mp4")

	id, err := f.o.Submit(context.Background(), models.OperationTypeMerge, models.MergeParams{
		Segments: []models.Segment{
			{Source: f.src("a.mp4"), Start: 0, End: 5},
			{Source: f.src("b.mp4"), Start: 2, End: 7},
		},
		Transitions: []models.Transition{{Type: models.TransitionCrossfade, Duration: 1}},
		Output:      out,
		Quality:     "medium",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collect := f.events(t, id)

	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Duration != 9 || result.SegmentCount != 2 {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
	assertStream(t, collect(), models.StageCompleted)
	f.assertNoTemps(t)
}

func TestMergeSingleSegment(t *testing.T) {
	f := newFixture(t)
	id, err := f.o.Submit(context.Background(), models.OperationTypeMerge, models.MergeParams{
		Segments: []models.Segment{{ID: "only", Source: f.src("a.mp4"), Start: 1, End: 4}},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Duration != 3 || result.SegmentCount != 1 {
		t.Errorf("result = %+v", result)
	}
	f.assertNoTemps(t)
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	clip := f.src("clip.mp4")

	tests := []struct {
		name   string
		typ    models.OperationType
		params any
		want   error
	}{
		{"unknown type", "explode", models.TrimParams{}, apperr.Validation},
		{"params mismatch", models.OperationTypeTrim, models.MergeParams{}, apperr.Validation},
		{"trim end before start", models.OperationTypeTrim, models.TrimParams{Input: clip, Start: 5, End: 2}, apperr.Validation},
		{"trim unsupported input", models.OperationTypeTrim, models.TrimParams{Input: "notes.txt", End: 2}, apperr.Validation},
		{"trim unknown quality", models.OperationTypeTrim, models.TrimParams{Input: clip, End: 2, Quality: "ultra"}, apperr.Validation},
		{"trim output overwrites input", models.OperationTypeTrim, models.TrimParams{Input: clip, Output: clip, End: 2}, apperr.Validation},
		{"merge no segments", models.OperationTypeMerge, models.MergeParams{}, apperr.Validation},
		{"merge duplicate ids", models.OperationTypeMerge, models.MergeParams{Segments: []models.Segment{
			{ID: "x", Source: clip, End: 2}, {ID: "x", Source: clip, End: 2},
		}}, apperr.Validation},
		{"merge transition count", models.OperationTypeMerge, models.MergeParams{
			Segments:    []models.Segment{{Source: clip, End: 2}, {Source: clip, End: 2}, {Source: clip, End: 2}},
			Transitions: []models.Transition{{Type: models.TransitionCrossfade, Duration: 0.5}},
		}, apperr.Composition},
		{"merge transition too long", models.OperationTypeMerge, models.MergeParams{
			Segments:    []models.Segment{{Source: clip, End: 2}, {Source: clip, End: 2}},
			Transitions: []models.Transition{{Type: models.TransitionCrossfade, Duration: 3}},
		}, apperr.Composition},
		{"extract unknown format", models.OperationTypeExtractAudio, models.ExtractAudioParams{Input: clip, Format: "xyz"}, apperr.Validation},
		{"extract format mismatch", models.OperationTypeExtractAudio, models.ExtractAudioParams{Input: clip, Format: "mp3", Output: "a.wav"}, apperr.Validation},
		{"mix volume out of range", models.OperationTypeReplaceAudio, models.ReplaceAudioParams{Video: clip, Audio: "a.mp3", Mix: true, AudioVolume: 3}, apperr.Validation},
		{"remove audio from audio", models.OperationTypeRemoveAudio, models.RemoveAudioParams{Input: "a.mp3"}, apperr.Validation},
		{"thumbnail negative time", models.OperationTypeThumbnail, models.ThumbnailParams{Input: clip, Time: -1}, apperr.Validation},
		{"thumbnail not an image", models.OperationTypeThumbnail, models.ThumbnailParams{Input: clip, Output: "t.mp4"}, apperr.Validation},
		{"probe missing input", models.OperationTypeProbe, models.ProbeParams{}, apperr.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.o.Submit(context.Background(), tt.typ, tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.want)
			}
			if id != "" {
				t.Errorf("Submit() id = %q, want none", id)
			}
		})
	}

	if ops := f.o.List(); len(ops) != 0 {
		t.Errorf("List() = %d operations, want none registered", len(ops))
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "hang.mp4")

	id, err := f.o.Submit(context.Background(), models.OperationTypeTrim, models.TrimParams{
		Input: f.src("clip__hang__.mp4"), Output: out, Start: 0, End: 5,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	collect := f.events(t, id)

	deadline := time.Now().Add(5 * time.Second)
	for {
		op, _ := f.o.Get(id)
		if op.State == models.OperationStateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation never started, state %s", op.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := f.o.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	_, err = f.wait(t, id)
	if !errors.Is(err, apperr.Cancelled) {
		t.Fatalf("Wait() error = %v, want cancelled", err)
	}

	assertStream(t, collect(), models.StageCancelled)
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output exists after cancel: %v", err)
	}
	f.assertNoTemps(t)

	// Cancelling again is a no-op.
	if err := f.o.Cancel(id); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
	if err := f.o.Cancel("missing"); !errors.Is(err, apperr.NotFound) {
		t.Errorf("Cancel(missing) error = %v, want not found", err)
	}
}

func TestSubscribeReplaysHistory(t *testing.T) {
	f := newFixture(t)
	id, err := f.o.Submit(context.Background(), models.OperationTypeRemoveAudio, models.RemoveAudioParams{
		Input: f.src("clip.mp4"),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.wait(t, id); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	late := f.events(t, id)()
	assertStream(t, late, models.StageCompleted)

	f.mu.Lock()
	sunk := len(f.sunk)
	f.mu.Unlock()
	if sunk != len(late) {
		t.Errorf("sink saw %d events, late subscriber %d", sunk, len(late))
	}

	if agg := f.o.Overview(); !agg.IsComplete || agg.Percent != 100 {
		t.Errorf("Overview() = %+v", agg)
	}
}

func TestProbeOperation(t *testing.T) {
	f := newFixture(t)
	id, err := f.o.Submit(context.Background(), models.OperationTypeProbe, models.ProbeParams{Input: f.src("clip.mp4")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Asset == nil || result.Asset.Duration != 10 || !result.Asset.HasAudio {
		t.Errorf("result = %+v", result)
	}
}

func TestThumbnailPastEnd(t *testing.T) {
	f := newFixture(t)
	id, err := f.o.Submit(context.Background(), models.OperationTypeThumbnail, models.ThumbnailParams{
		Input: f.src("clip.mp4"), Time: 20,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.wait(t, id); !errors.Is(err, apperr.Validation) {
		t.Fatalf("Wait() error = %v, want validation error", err)
	}
	op, _ := f.o.Get(id)
	if op.State != models.OperationStateFailed {
		t.Errorf("state = %s", op.State)
	}
}

type memRecorder struct {
	mu  sync.Mutex
	ops []models.Operation
}

func (m *memRecorder) Record(_ context.Context, op models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	return nil
}

func TestRecorderAndForget(t *testing.T) {
	f := newFixture(t)
	rec := &memRecorder{}
	f.o.recorder = rec

	id, err := f.o.Submit(context.Background(), models.OperationTypeExtractAudio, models.ExtractAudioParams{
		Input: f.src("clip.mp4"), Format: "wav",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result, err := f.wait(t, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if filepath.Ext(result.OutputPath) != ".wav" || result.Format != "wav" {
		t.Errorf("result = %+v", result)
	}

	rec.mu.Lock()
	if len(rec.ops) != 1 || rec.ops[0].ID != id || rec.ops[0].State != models.OperationStateCompleted {
		t.Errorf("recorded = %+v", rec.ops)
	}
	rec.mu.Unlock()

	if n := f.o.Forget(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("Forget() = %d, want 1", n)
	}
	if _, err := f.o.Get(id); !errors.Is(err, apperr.NotFound) {
		t.Errorf("Get() after Forget error = %v", err)
	}
}

func TestEmitMirrorsDeliveredEventsInOrder(t *testing.T) {
	op := newOperation("op-1", models.OperationTypeMerge, "", func() {})
	overview := progress.NewAggregator()

	var mu sync.Mutex
	var mirrored []float64
	mirror := func(ev models.ProgressEvent) {
		overview.Update(ev.OperationID, ev)
		mu.Lock()
		mirrored = append(mirrored, ev.Percent)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op.emit(NopSink, models.ProgressEvent{Stage: models.StageProcessing, Percent: float64(i)}, mirror)
		}()
	}
	wg.Wait()

	for i := 1; i < len(mirrored); i++ {
		if mirrored[i] < mirrored[i-1] {
			t.Fatalf("mirrored percent regressed: %v", mirrored)
		}
	}
	if got := overview.Snapshot().Percent; got != 50 {
		t.Errorf("overview percent = %v, want 50", got)
	}

	if !op.emit(NopSink, models.ProgressEvent{Stage: models.StageCompleted}, mirror) {
		t.Fatal("completed event dropped")
	}
	if op.emit(NopSink, models.ProgressEvent{Stage: models.StageProcessing, Percent: 10}, mirror) {
		t.Error("event after the terminal one was delivered")
	}
	if n := len(mirrored); n != 51 {
		t.Errorf("mirror called %d times, want 51", n)
	}
	if !overview.Snapshot().IsComplete {
		t.Error("overview should see the completed event")
	}
}
