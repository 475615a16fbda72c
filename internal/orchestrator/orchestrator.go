// Package orchestrator sequences media operations: it validates requests,
// drives one or more engine pipelines per operation, owns every temp
// resource they create and turns their event streams into one ordered
// stream per operation.
package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/profile"
	"github.com/cutroom/backend/internal/progress"
	"github.com/cutroom/backend/internal/storage"
)

// EventSink receives every operation's events. Publish is called in event
// order for each operation and must not block.
type EventSink interface {
	Publish(models.ProgressEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(models.ProgressEvent)

func (f SinkFunc) Publish(ev models.ProgressEvent) { f(ev) }

// NopSink discards events.
var NopSink EventSink = SinkFunc(func(models.ProgressEvent) {})

// Engine is the codec engine as seen by the orchestrator.
type Engine interface {
	Probe(ctx context.Context, path string) (*models.MediaAsset, error)
	NewPipeline(operationID string) *ffmpeg.Pipeline
}

// Recorder persists terminal operations.
type Recorder interface {
	Record(ctx context.Context, op models.Operation) error
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxConcurrency caps concurrently running engine processes across all
	// operations. Zero means runtime.NumCPU().
	MaxConcurrency int
	// OutputDir receives outputs of requests that name none.
	OutputDir string
	// KeepPartial retains failed outputs for every request.
	KeepPartial bool
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithRecorder records every terminal operation.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithResolver replaces the default quality profile resolver.
func WithResolver(r *profile.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// Orchestrator runs operations. It is safe for concurrent use.
type Orchestrator struct {
	engine   Engine
	temps    *storage.TempRegistry
	sink     EventSink
	resolver *profile.Resolver
	recorder Recorder
	logger   *zap.Logger
	cfg      Config

	slots    chan struct{}
	overview *progress.Aggregator

	mu  sync.RWMutex
	ops map[string]*operation
	wg  sync.WaitGroup
}

// New creates an orchestrator. The sink is injected here; there is no
// package-level state.
func New(engine Engine, temps *storage.TempRegistry, sink EventSink, logger *zap.Logger, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = runtime.NumCPU()
	}
	if sink == nil {
		sink = NopSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		engine:   engine,
		temps:    temps,
		sink:     sink,
		resolver: profile.NewResolver(),
		logger:   logger,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrency),
		overview: progress.NewAggregator(),
		ops:      make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolver returns the quality profile resolver in use.
func (o *Orchestrator) Resolver() *profile.Resolver {
	return o.resolver
}

// MaxConcurrency returns the effective engine process cap.
func (o *Orchestrator) MaxConcurrency() int {
	return o.cfg.MaxConcurrency
}

// Submit validates a request and starts it in the background, returning the
// operation id. params must be the parameter struct of typ (value or
// pointer). Validation and composition errors are returned here, before
// anything is spawned or registered.
func (o *Orchestrator) Submit(ctx context.Context, typ models.OperationType, params any) (string, error) {
	id := uuid.NewString()

	p, err := o.plan(id, typ, params)
	if err != nil {
		return "", apperr.WithOperation(err, string(typ), "")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	op := newOperation(id, typ, p.output, cancel)

	o.mu.Lock()
	o.ops[id] = op
	o.mu.Unlock()
	o.overview.Track(id)

	o.logger.Info("Operation submitted",
		zap.String("operation_id", id),
		zap.String("type", string(typ)),
		zap.String("output", p.output),
	)

	o.wg.Add(1)
	go o.execute(runCtx, op, p)
	return id, nil
}

// Subscribe delivers the operation's events to cb in order, starting with
// those already emitted. Delivery stops after the terminal event or when
// the returned function is called.
func (o *Orchestrator) Subscribe(id string, cb func(models.ProgressEvent)) (func(), error) {
	op, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return op.subscribe(cb), nil
}

// Cancel stops an operation. Its processes are killed and its temp
// resources released; the event stream ends with one cancelled event.
// Cancelling a finished operation is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	op, err := o.lookup(id)
	if err != nil {
		return err
	}
	if op.markCancelling() {
		o.logger.Info("Cancelling operation", zap.String("operation_id", id))
		op.cancel()
	}
	return nil
}

// Wait blocks until the operation is terminal and returns its result or
// error.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*models.Result, error) {
	op, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-op.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result, op.err
}

// Get returns the operation record.
func (o *Orchestrator) Get(id string) (models.Operation, error) {
	op, err := o.lookup(id)
	if err != nil {
		return models.Operation{}, err
	}
	return op.snapshot(), nil
}

// List returns every known operation, oldest first.
func (o *Orchestrator) List() []models.Operation {
	o.mu.RLock()
	out := make([]models.Operation, 0, len(o.ops))
	for _, op := range o.ops {
		out = append(out, op.snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Overview aggregates the progress of all operations still in memory.
func (o *Orchestrator) Overview() progress.Aggregate {
	return o.overview.Snapshot()
}

// Forget drops finished operations that completed before cutoff.
func (o *Orchestrator) Forget(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for id, op := range o.ops {
		info := op.snapshot()
		if info.CompletedAt != nil && info.CompletedAt.Before(cutoff) {
			delete(o.ops, id)
			o.overview.Remove(id)
			n++
		}
	}
	return n
}

// Shutdown cancels every running operation and waits for them to finish
// cleaning up.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	for _, op := range o.ops {
		if op.markCancelling() {
			op.cancel()
		}
	}
	o.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(id string) (*operation, error) {
	o.mu.RLock()
	op, ok := o.ops[id]
	o.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "operation %s not found", id)
	}
	return op, nil
}

// execute runs a planned operation to its terminal state.
func (o *Orchestrator) execute(ctx context.Context, op *operation, p *plan) {
	defer o.wg.Done()
	defer op.cancel()

	id := op.info.ID
	logger := o.logger.With(zap.String("operation_id", id), zap.String("type", string(op.info.Type)))
	scope := o.temps.Acquire(id)
	r := &run{o: o, op: op, scope: scope, agg: progress.NewAggregator(), keepPartial: p.keepPartial}

	var (
		result *models.Result
		err    error
	)
	if ctx.Err() != nil {
		err = apperr.New(apperr.KindCancelled, "operation cancelled")
	} else {
		op.setState(models.OperationStateStarting)
		r.emit(models.ProgressEvent{Stage: models.StageStarted})
		op.setState(models.OperationStateRunning)
		result, err = p.run(ctx, r)
	}

	if closeErr := scope.Close(p.keepPartial && err != nil); closeErr != nil {
		logger.Warn("Temp cleanup failed", zap.Error(closeErr))
	}

	if err != nil && (ctx.Err() != nil || errors.Is(err, apperr.Cancelled)) {
		err = apperr.WithOperation(&apperr.Error{Kind: apperr.KindCancelled, Message: "operation cancelled", Err: err}, string(op.info.Type), id)
	} else if err != nil {
		err = apperr.WithOperation(err, string(op.info.Type), id)
	}

	final := models.ProgressEvent{Stage: models.StageCompleted}
	state := models.OperationStateCompleted
	switch {
	case err == nil:
		logger.Info("Operation completed", zap.String("output", p.output))
	case apperr.KindOf(err) == apperr.KindCancelled:
		state = models.OperationStateCancelled
		final = models.ProgressEvent{Stage: models.StageCancelled, Message: "cancelled"}
		logger.Info("Operation cancelled")
	default:
		state = models.OperationStateFailed
		final = models.ProgressEvent{Stage: models.StageError, Message: err.Error(), SegmentID: segmentOf(err)}
		logger.Error("Operation failed", zap.Error(err))
	}
	op.finish(state, result, err)
	r.emit(final)

	if o.recorder != nil {
		if recErr := o.recorder.Record(context.WithoutCancel(ctx), op.snapshot()); recErr != nil {
			logger.Warn("Failed to record operation history", zap.Error(recErr))
		}
	}
	close(op.done)
}

func segmentOf(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.SegmentID
	}
	return ""
}
