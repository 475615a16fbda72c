package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

const (
	eventBuffer  = 64
	stderrTail   = 40
	killWaitTime = 5 * time.Second
)

// State is a pipeline's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Invocation is one engine run.
type Invocation struct {
	Args []string
	// OutputPath is removed when the run fails or is cancelled, unless
	// KeepPartial is set (failures only).
	OutputPath  string
	KeepPartial bool
	// Duration is the expected output length in seconds, used for percent.
	Duration  float64
	SegmentID string
}

// Pipeline drives a single FFmpeg process. It is one-shot: Idle → Starting →
// Running → Completed | Failed | Cancelled. Events carry a non-decreasing
// percent and end with exactly one terminal event, after which the channel
// is closed.
type Pipeline struct {
	exec        *Executor
	operationID string
	logger      *zap.Logger

	events chan models.ProgressEvent
	done   chan struct{}

	mu        sync.Mutex
	state     State
	inv       Invocation
	percent   float64
	cancel    context.CancelFunc
	cancelled bool
	err       error
}

func newPipeline(e *Executor, operationID string) *Pipeline {
	return &Pipeline{
		exec:        e,
		operationID: operationID,
		logger:      e.logger.With(zap.String("operation_id", operationID)),
		events:      make(chan models.ProgressEvent, eventBuffer),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
}

// Events returns the pipeline's event stream. It is closed after the
// terminal event.
func (p *Pipeline) Events() <-chan models.ProgressEvent {
	return p.events
}

// Done is closed once the pipeline reached a terminal state.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Wait blocks until the pipeline is terminal and returns its error, nil on
// success.
func (p *Pipeline) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start spawns the engine. It returns once the process is running (or failed
// to start); the run itself continues in the background. Cancelling ctx
// cancels the run.
func (p *Pipeline) Start(ctx context.Context, inv Invocation) error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return apperr.New(apperr.KindInternal, "pipeline already used (state %s)", state)
	}
	p.state = StateStarting
	p.inv = inv
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	args := p.withThreads(inv.Args)
	cmd := exec.CommandContext(runCtx, p.exec.ffmpegPath, args...)
	cmd.WaitDelay = killWaitTime

	p.logger.Info("Executing FFmpeg", zap.String("command", cmd.String()))

	stderr, err := cmd.StderrPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		// A parent context that is already done makes Start fail with its error.
		cancelled := ctx.Err() != nil
		cancel()
		p.mu.Lock()
		cancelled = cancelled || p.cancelled
		p.mu.Unlock()
		if cancelled {
			cancelErr := p.cancelledErr()
			p.finish(StateCancelled, cancelErr, models.StageCancelled, "cancelled before start")
			return cancelErr
		}
		startErr := &apperr.Error{
			Kind:        apperr.KindEngineInvocation,
			OperationID: p.operationID,
			SegmentID:   inv.SegmentID,
			Message:     "failed to start ffmpeg",
			Err:         err,
		}
		p.logger.Error("FFmpeg failed to start", zap.Error(err))
		p.finish(StateFailed, startErr, models.StageError, startErr.Error())
		return startErr
	}

	p.exec.track(p)
	p.mu.Lock()
	p.state = StateRunning
	if !p.cancelled {
		p.send(models.StageStarted, 0, 0, 0, "")
	}
	p.mu.Unlock()

	go p.run(runCtx, cmd, stderr)
	return nil
}

// Cancel kills the process if it is running. After Cancel returns no
// progress events are delivered; the stream ends with one cancelled event.
// Cancelling a terminal pipeline is a no-op.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	switch {
	case p.state.Terminal() || p.cancelled:
		p.mu.Unlock()
		return
	case p.state == StateIdle:
		p.state = StateCancelled
		p.mu.Unlock()
		p.finish(StateCancelled, p.cancelledErr(), models.StageCancelled, "cancelled before start")
		return
	}
	p.cancelled = true
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
}

func (p *Pipeline) run(ctx context.Context, cmd *exec.Cmd, stderr io.Reader) {
	tail := p.scan(stderr)
	waitErr := cmd.Wait()
	p.exec.untrack(p)

	p.mu.Lock()
	cancelled := p.cancelled || ctx.Err() != nil && waitErr != nil
	p.mu.Unlock()

	switch {
	case cancelled:
		p.removeOutput(false)
		p.logger.Info("FFmpeg cancelled")
		p.finish(StateCancelled, p.cancelledErr(), models.StageCancelled, "cancelled")

	case waitErr != nil:
		msg := ParseFFmpegError(strings.Join(tail, "\n"))
		runErr := &apperr.Error{
			Kind:        apperr.KindEngineRuntime,
			OperationID: p.operationID,
			SegmentID:   p.inv.SegmentID,
			Message:     msg,
			Err:         waitErr,
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			runErr.Message = msg + " (exit status " + strconv.Itoa(exitErr.ExitCode()) + ")"
		}
		p.removeOutput(p.inv.KeepPartial)
		p.logger.Error("FFmpeg execution failed", zap.Error(waitErr), zap.String("stderr", msg))
		p.finish(StateFailed, runErr, models.StageError, msg)

	default:
		p.logger.Info("FFmpeg execution completed successfully")
		p.finish(StateCompleted, nil, models.StageCompleted, "")
	}
}

// scan reads stderr until EOF, emitting progress and returning the last
// lines for error reporting.
func (p *Pipeline) scan(stderr io.Reader) []string {
	parser := NewProgressParser(p.inv.Duration)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanStatusLines)

	tail := make([]string, 0, stderrTail)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(tail) == stderrTail {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, line)

		if pr, ok := parser.ParseLine(line); ok {
			p.progress(pr)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading FFmpeg stderr", zap.Error(err))
		// keep draining so the process never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stderr)
	}
	return tail
}

func (p *Pipeline) progress(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning || p.cancelled {
		return
	}
	if pr.Percent > p.percent {
		p.percent = pr.Percent
	}
	// leave room for the terminal event
	if len(p.events) >= cap(p.events)-1 {
		return
	}
	p.send(models.StageProcessing, p.percent, pr.FPS, pr.Speed, "")
}

// finish records the terminal state, emits the terminal event and closes
// the stream.
func (p *Pipeline) finish(state State, err error, stage models.ProgressStage, msg string) {
	p.mu.Lock()
	p.state = state
	p.err = err
	percent := p.percent
	if state == StateCompleted {
		percent = 100
		p.percent = 100
	}
	p.send(stage, percent, 0, 0, msg)
	close(p.events)
	p.mu.Unlock()

	close(p.done)
}

// send must be called with mu held.
func (p *Pipeline) send(stage models.ProgressStage, percent, fps, speed float64, msg string) {
	p.events <- models.ProgressEvent{
		OperationID: p.operationID,
		SegmentID:   p.inv.SegmentID,
		Stage:       stage,
		Percent:     percent,
		Timestamp:   time.Now(),
		FPS:         fps,
		Speed:       speed,
		Message:     msg,
	}
}

func (p *Pipeline) cancelledErr() error {
	return &apperr.Error{
		Kind:        apperr.KindCancelled,
		OperationID: p.operationID,
		SegmentID:   p.inv.SegmentID,
		Message:     "operation cancelled",
	}
}

func (p *Pipeline) removeOutput(keep bool) {
	if keep || p.inv.OutputPath == "" {
		if keep {
			p.logger.Info("Keeping partial output", zap.String("path", p.inv.OutputPath))
		}
		return
	}
	if err := os.Remove(p.inv.OutputPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove partial output", zap.String("path", p.inv.OutputPath), zap.Error(err))
	}
}

func (p *Pipeline) withThreads(args []string) []string {
	if p.exec.threads <= 0 || len(args) == 0 {
		return args
	}
	out := make([]string, 0, len(args)+2)
	out = append(out, args[:len(args)-1]...)
	out = append(out, "-threads", strconv.Itoa(p.exec.threads), args[len(args)-1])
	return out
}
