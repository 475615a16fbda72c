package ffmpeg

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeTimeout = 30 * time.Second

// Options configure an Executor.
type Options struct {
	FFmpegPath   string
	FFprobePath  string
	Threads      int
	ProbeTimeout time.Duration
}

// Executor spawns FFmpeg pipelines and FFprobe queries and keeps track of
// the pipelines that are still running.
type Executor struct {
	ffmpegPath   string
	ffprobePath  string
	threads      int
	probeTimeout time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	pipelines map[*Pipeline]struct{}
}

// NewExecutor creates a new FFmpeg executor
func NewExecutor(opts Options, logger *zap.Logger) *Executor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		ffmpegPath:   opts.FFmpegPath,
		ffprobePath:  opts.FFprobePath,
		threads:      opts.Threads,
		probeTimeout: opts.ProbeTimeout,
		logger:       logger,
		pipelines:    make(map[*Pipeline]struct{}),
	}
}

// NewPipeline returns an idle one-shot pipeline for operationID.
func (e *Executor) NewPipeline(operationID string) *Pipeline {
	return newPipeline(e, operationID)
}

// Running returns the operation ids of pipelines that have not finished,
// sorted.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.pipelines))
	for p := range e.pipelines {
		ids = append(ids, p.operationID)
	}
	sort.Strings(ids)
	return ids
}

// CancelAll cancels every running pipeline. Used on shutdown.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	running := make([]*Pipeline, 0, len(e.pipelines))
	for p := range e.pipelines {
		running = append(running, p)
	}
	e.mu.Unlock()

	for _, p := range running {
		p.Cancel()
	}
}

func (e *Executor) track(p *Pipeline) {
	e.mu.Lock()
	e.pipelines[p] = struct{}{}
	e.mu.Unlock()
}

func (e *Executor) untrack(p *Pipeline) {
	e.mu.Lock()
	delete(e.pipelines, p)
	e.mu.Unlock()
}
