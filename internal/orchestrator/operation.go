package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

// maxHistory bounds the events kept for replay to late subscribers. Beyond
// it, consecutive processing events overwrite each other.
const maxHistory = 512

// operation is the orchestrator's bookkeeping for one logical request. All
// events of an operation go through emit, which serializes them and keeps
// the percent non-decreasing with exactly one terminal event.
type operation struct {
	mu         sync.Mutex
	info       models.Operation
	history    []models.ProgressEvent
	subs       map[int]*subscriber
	nextSub    int
	terminal   bool
	cancelling bool
	result     *models.Result
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

func newOperation(id string, typ models.OperationType, output string, cancel context.CancelFunc) *operation {
	return &operation{
		info: models.Operation{
			ID:         id,
			Type:       typ,
			State:      models.OperationStatePending,
			OutputPath: output,
			CreatedAt:  time.Now(),
		},
		subs:   make(map[int]*subscriber),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (op *operation) snapshot() models.Operation {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.info
}

// setState moves the state machine forward; backward moves are ignored.
func (op *operation) setState(next models.OperationState) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.info.State.CanTransition(next) {
		return false
	}
	op.info.State = next
	return true
}

// finish records the outcome and the terminal state.
func (op *operation) finish(state models.OperationState, result *models.Result, err error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	now := time.Now()
	op.result = result
	op.err = err
	op.info.CompletedAt = &now
	if op.info.State.CanTransition(state) {
		op.info.State = state
	}
	if err != nil && state == models.OperationStateFailed {
		op.info.Error = err.Error()
		op.info.ErrorKind = string(apperr.KindOf(err))
	}
	if result != nil && result.OutputPath != "" {
		op.info.OutputPath = result.OutputPath
	}
}

// markCancelling suppresses further non-terminal events. It reports false
// when the operation already finished.
func (op *operation) markCancelling() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.terminal {
		return false
	}
	op.cancelling = true
	return true
}

// emit records and fans out one event, then hands the delivered event to
// mirror while still holding the lock, so mirrors see the operation's
// events in stream order. It reports false if the event was dropped.
func (op *operation) emit(sink EventSink, ev models.ProgressEvent, mirror func(models.ProgressEvent)) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.terminal || (op.cancelling && !ev.Stage.Terminal()) {
		return false
	}

	ev.OperationID = op.info.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	switch {
	case ev.Stage == models.StageCompleted:
		ev.Percent = 100
	case ev.Percent < op.info.Progress || ev.Stage.Terminal():
		ev.Percent = op.info.Progress
	case ev.Percent > 100:
		ev.Percent = 100
	}
	op.info.Progress = ev.Percent
	op.terminal = ev.Stage.Terminal()

	if n := len(op.history); n >= maxHistory && ev.Stage == models.StageProcessing && op.history[n-1].Stage == models.StageProcessing {
		op.history[n-1] = ev
	} else {
		op.history = append(op.history, ev)
	}

	for id, s := range op.subs {
		s.push(ev)
		if op.terminal {
			delete(op.subs, id)
		}
	}
	sink.Publish(ev)
	if mirror != nil {
		mirror(ev)
	}
	return true
}

// subscribe registers cb and replays the events seen so far.
func (op *operation) subscribe(cb func(models.ProgressEvent)) func() {
	s := newSubscriber(cb)

	op.mu.Lock()
	for _, ev := range op.history {
		s.push(ev)
	}
	id := op.nextSub
	op.nextSub++
	if !op.terminal {
		op.subs[id] = s
	}
	op.mu.Unlock()

	go s.run()

	return func() {
		op.mu.Lock()
		delete(op.subs, id)
		op.mu.Unlock()
		s.close()
	}
}

// subscriber delivers events to one callback on its own goroutine, in
// order, so a slow callback never stalls the operation.
type subscriber struct {
	cb     func(models.ProgressEvent)
	signal chan struct{}
	stop   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []models.ProgressEvent
}

func newSubscriber(cb func(models.ProgressEvent)) *subscriber {
	return &subscriber{
		cb:     cb,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func (s *subscriber) push(ev models.ProgressEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}

			for _, ev := range batch {
				select {
				case <-s.stop:
					return
				default:
				}
				s.cb(ev)
				if ev.Stage.Terminal() {
					s.close()
					return
				}
			}
		}
	}
}
