package api

import (
	"context"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

// RunSummary is the last finished batch as reported by the status endpoint.
type RunSummary struct {
	Day     string         `json:"day"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
	Stats   analysis.Stats `json:"stats"`
}

// Tracker remembers whether a batch is running and how the last one ended.
// It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	running    bool
	runningDay string
	last       *RunSummary
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Started marks a batch for day as running.
func (t *Tracker) Started(day time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.runningDay = day.Format(time.DateOnly)
}

// Notify records a finished batch. It matches the pipeline's notifier
// signature so the tracker can be registered next to Slack and NATS.
func (t *Tracker) Notify(_ context.Context, day time.Time, stats analysis.Stats, _ []analysis.Result, runErr error) error {
	sum := &RunSummary{Day: day.Format(time.DateOnly), Outcome: "completed", Stats: stats}
	if runErr != nil {
		sum.Outcome = "aborted"
		sum.Error = runErr.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.runningDay = ""
	t.last = sum
	return nil
}

// Restore seeds the tracker with a run recorded before start-up.
func (t *Tracker) Restore(sum RunSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		t.last = &sum
	}
}

// Snapshot returns the running flag, the running day and a copy of the last
// run, if any.
func (t *Tracker) Snapshot() (bool, string, *RunSummary) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return t.running, t.runningDay, nil
	}
	last := *t.last
	return t.running, t.runningDay, &last
}
