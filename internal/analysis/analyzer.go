// Package analysis drives a batch of calls through eligibility filtering,
// prompt rendering, LLM scoring and answer validation.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/callq/internal/calls"
	"github.com/MikeSquared-Agency/callq/internal/eligibility"
	"github.com/MikeSquared-Agency/callq/internal/llm"
	"github.com/MikeSquared-Agency/callq/internal/metrics"
	"github.com/MikeSquared-Agency/callq/internal/prompt"
)

// Config carries every tunable of a batch. The engine reads nothing from the
// environment.
type Config struct {
	Model          string
	MaxConcurrency int
	MaxAttempts    int
	MinDuration    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RepairDelay    time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "gpt-4o-mini",
		MaxConcurrency: 3,
		MaxAttempts:    3,
		MinDuration:    eligibility.DefaultMinDuration,
		BackoffBase:    5 * time.Second,
		BackoffMax:     60 * time.Second,
		RepairDelay:    time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

// Input is everything one batch scores.
type Input struct {
	Records      []calls.Record
	Rubric       calls.Rubric
	Template     *prompt.Template
	Instructions []string
	// Operators is the department's reference set; nil disables the
	// operator check.
	Operators *eligibility.Operators
}

type Analyzer struct {
	client  llm.Completer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(client llm.Completer, m *metrics.Metrics, logger *slog.Logger) *Analyzer {
	return &Analyzer{client: client, metrics: m, logger: logger}
}

// batch is the shared state of one AnalyzeBatch call.
type batch struct {
	*Analyzer
	cfg       Config
	builder   *prompt.Builder
	validator *Validator

	mu          sync.Mutex
	results     []Result
	skipReasons map[string]int

	scored, skipped, failed      atomic.Int64
	requests, unknownUsage       atomic.Int64
	promptTokens, completionToks atomic.Int64
}

// AnalyzeBatch scores every eligible record and returns one Result per call
// that reached a terminal state, in no particular order.
//
// Per-call failures never surface as an error. The error is non-nil only for
// a broken prompt setup (prompt.ErrConfiguration), an authentication failure
// (llm.IsAuth) or cancellation of ctx; in the latter two cases the results
// completed so far are returned along with it.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, in Input, cfg Config) ([]Result, Stats, error) {
	cfg = cfg.normalized()
	stats := Stats{RunID: uuid.New(), Model: cfg.Model, StartedAt: time.Now().UTC(), Total: len(in.Records)}

	builder, err := prompt.NewBuilder(in.Template, in.Rubric, in.Instructions)
	if err != nil {
		return nil, stats, err
	}

	b := &batch{
		Analyzer:    a,
		cfg:         cfg,
		builder:     builder,
		validator:   NewValidator(in.Rubric, a.logger),
		results:     make([]Result, 0, len(in.Records)),
		skipReasons: make(map[string]int),
	}

	logger := a.logger.With("run_id", stats.RunID)
	filter := eligibility.Filter{MinDuration: cfg.MinDuration, Operators: in.Operators}

	var eligible []calls.Record
	for _, rec := range in.Records {
		v := filter.Check(rec)
		if !v.Eligible {
			logger.Debug("call skipped", "call_id", rec.Call.ID, "reason", v.Reason)
			b.record(Result{
				CallID:      rec.Call.ID,
				Call:        rec.Call,
				Transcript:  rec.Transcript,
				Status:      StatusSkipped,
				SkipReason:  string(v.Reason),
				CompletedAt: time.Now().UTC(),
			})
			continue
		}
		eligible = append(eligible, rec)
	}
	stats.Eligible = len(eligible)

	logger.Info("batch started",
		"calls", stats.Total,
		"eligible", stats.Eligible,
		"model", cfg.Model,
		"max_concurrency", cfg.MaxConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)
	for _, rec := range eligible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return b.analyzeCall(gctx, logger.With("call_id", rec.Call.ID), rec)
		})
	}
	fatal := g.Wait()

	stats = b.finalize(stats)
	outcome := "completed"
	switch {
	case fatal != nil:
		outcome = "aborted"
		err = fmt.Errorf("batch aborted: %w", fatal)
	case ctx.Err() != nil:
		outcome = "cancelled"
		err = fmt.Errorf("batch cancelled: %w", ctx.Err())
	}
	a.metrics.BatchFinished(outcome, stats.Duration, stats.FinishedAt)

	logger.Info("batch finished",
		"outcome", outcome,
		"scored", stats.Scored,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"abandoned", stats.Abandoned,
		"tokens", stats.TotalTokens,
		"unknown_usage_attempts", stats.UnknownUsageAttempts,
		"duration", stats.Duration)

	return b.results, stats, err
}

// analyzeCall runs one eligible call to a terminal state. It returns an error
// only when the whole batch must stop.
func (b *batch) analyzeCall(ctx context.Context, logger *slog.Logger, rec calls.Record) error {
	base := b.builder.Build(rec.Transcript)
	st := newAttempt(b.cfg)

	for !st.done() {
		if ctx.Err() != nil {
			logger.Warn("call abandoned", "attempt", st.requests, "phase", st.phase.String())
			return nil
		}

		text := base
		if st.invalid != nil {
			text += repairInstruction(st.invalid)
		}

		resp, err := b.complete(ctx, text)
		if err != nil && ctx.Err() != nil {
			logger.Warn("call abandoned", "attempt", st.requests+1, "error", err)
			return nil
		}

		var usage *llm.Usage
		var assessment *Assessment
		if err == nil {
			usage = &resp.Usage
			b.countUsage(resp.Usage)
			assessment, err = b.validator.Validate(resp.Text)
		}

		wait := st.observe(usage, assessment, err)
		switch st.phase {
		case phaseAborted:
			logger.Error("authentication rejected, aborting batch", "error", err)
			return err
		case phaseRetrying:
			logger.Warn("retrying call",
				"attempt", st.requests,
				"validation_failures", st.validationFailures,
				"transport_failures", st.transportFailures,
				"wait", wait,
				"error", err)
			if !sleep(ctx, wait) {
				logger.Warn("call abandoned", "attempt", st.requests, "phase", st.phase.String())
				return nil
			}
		}
	}

	res := Result{
		CallID:      rec.Call.ID,
		Call:        rec.Call,
		Transcript:  rec.Transcript,
		Usage:       st.usage,
		Attempts:    st.requests,
		Model:       b.cfg.Model,
		CompletedAt: time.Now().UTC(),
	}
	switch {
	case st.phase == phaseFailed:
		res.Status = StatusFailed
		res.FailureReason = st.reason
		res.Error = st.lastErr.Error()
		logger.Error("call failed", "reason", st.reason, "attempts", st.requests, "error", st.lastErr)
	case !st.assessment.IsSalesCall:
		res.Status = StatusSkipped
		res.SkipReason = ReasonNotSalesCall
		res.Assessment = st.assessment
		logger.Info("call is not a sales call", "tokens", st.usage.Total())
	default:
		res.Status = StatusScored
		res.Assessment = st.assessment
		logger.Info("call scored",
			"performance", int(st.assessment.PerformancePercentage),
			"recommendations", len(st.assessment.Recommendations),
			"agreements", len(st.assessment.Agreements),
			"attempts", st.requests,
			"tokens", st.usage.Total())
	}
	b.record(res)
	return nil
}

func (b *batch) complete(ctx context.Context, text string) (*llm.Response, error) {
	b.requests.Add(1)
	b.metrics.RequestStarted()
	started := time.Now()

	resp, err := b.client.Complete(ctx, b.cfg.Model, text)

	outcome := "ok"
	if err != nil {
		outcome = string(llm.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	b.metrics.RequestFinished(outcome, time.Since(started))
	return resp, err
}

func (b *batch) countUsage(u llm.Usage) {
	if !u.Known {
		b.unknownUsage.Add(1)
		return
	}
	b.promptTokens.Add(u.PromptTokens)
	b.completionToks.Add(u.CompletionTokens)
	b.metrics.AddTokens(u.PromptTokens, u.CompletionTokens)
}

func (b *batch) record(res Result) {
	switch res.Status {
	case StatusScored:
		b.scored.Add(1)
	case StatusSkipped:
		b.skipped.Add(1)
	case StatusFailed:
		b.failed.Add(1)
	}
	reason := res.SkipReason + res.FailureReason
	b.metrics.CallFinished(string(res.Status), reason)

	b.mu.Lock()
	defer b.mu.Unlock()
	if res.Status == StatusSkipped {
		b.skipReasons[res.SkipReason]++
	}
	b.results = append(b.results, res)
}

func (b *batch) finalize(s Stats) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s.Scored = int(b.scored.Load())
	s.Skipped = int(b.skipped.Load())
	s.Failed = int(b.failed.Load())
	s.Abandoned = s.Total - s.Scored - s.Skipped - s.Failed
	if len(b.skipReasons) > 0 {
		s.SkipReasons = make(map[string]int, len(b.skipReasons))
		for k, v := range b.skipReasons {
			s.SkipReasons[k] = v
		}
	}
	s.PromptTokens = b.promptTokens.Load()
	s.CompletionTokens = b.completionToks.Load()
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	s.UnknownUsageAttempts = int(b.unknownUsage.Load())
	s.LLMRequests = int(b.requests.Load())
	s.FinishedAt = time.Now().UTC()
	s.Duration = s.FinishedAt.Sub(s.StartedAt)
	return s
}

// sleep waits for d or until ctx is done, reporting whether it waited fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
