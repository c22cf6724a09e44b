package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Runner starts batches in the background, one at a time. Requests that
// arrive while a batch is running are refused.
type Runner struct {
	pipeline *Pipeline
	ctx      context.Context
	logger   *slog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewRunner binds background batches to ctx; cancelling it cancels the
// running batch.
func NewRunner(ctx context.Context, p *Pipeline, logger *slog.Logger) *Runner {
	return &Runner{pipeline: p, ctx: ctx, logger: logger}
}

// TryStart launches a batch for day unless one is already running.
func (r *Runner) TryStart(day time.Time) bool {
	if !r.busy.CompareAndSwap(false, true) {
		r.logger.Warn("batch already running, trigger ignored", "day", day.Format(time.DateOnly))
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)
		if _, err := r.pipeline.Run(r.ctx, day); err != nil {
			r.logger.Error("triggered batch failed", "day", day.Format(time.DateOnly), "error", err)
		}
	}()
	return true
}

// Busy reports whether a batch is running.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Wait blocks until the running batch, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
