// Package progress combines the event streams of several tracked
// operations into one aggregate view.
package progress

import (
	"sync"

	"github.com/cutroom/backend/internal/models"
)

// Aggregate is the combined view over all tracked operations.
type Aggregate struct {
	// Percent is the unweighted mean of the latest percent of every tracked
	// operation; 0 when nothing is tracked.
	Percent float64 `json:"percent"`
	// IsComplete is set when every tracked operation's latest stage is
	// completed. It is false when nothing is tracked.
	IsComplete bool `json:"is_complete"`
	// HasError is set when any tracked operation's latest stage is error.
	HasError bool `json:"has_error"`
	Tracked  int  `json:"tracked"`
}

// Aggregator maps tracked-operation keys to their latest event. It is safe
// for concurrent use.
type Aggregator struct {
	mu     sync.RWMutex
	latest map[string]models.ProgressEvent
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{latest: make(map[string]models.ProgressEvent)}
}

// Track registers key at 0% without an event stage. Tracking a key that is
// already tracked keeps its latest event.
func (a *Aggregator) Track(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.latest[key]; !ok {
		a.latest[key] = models.ProgressEvent{}
	}
}

// Update records ev as the latest event of key, tracking it if needed.
func (a *Aggregator) Update(key string, ev models.ProgressEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest[key] = ev
}

// Remove stops tracking key.
func (a *Aggregator) Remove(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.latest, key)
}

// Snapshot computes the aggregate view.
func (a *Aggregator) Snapshot() Aggregate {
	a.mu.RLock()
	defer a.mu.RUnlock()

	agg := Aggregate{Tracked: len(a.latest)}
	if agg.Tracked == 0 {
		return agg
	}

	sum := 0.0
	agg.IsComplete = true
	for _, ev := range a.latest {
		sum += ev.Percent
		if ev.Stage != models.StageCompleted {
			agg.IsComplete = false
		}
		if ev.Stage == models.StageError {
			agg.HasError = true
		}
	}
	agg.Percent = sum / float64(agg.Tracked)
	return agg
}
