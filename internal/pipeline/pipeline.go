// Package pipeline runs one nightly batch end to end: fetch the day's calls,
// score them, persist the results and tell everyone how it went.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
	"github.com/MikeSquared-Agency/callq/internal/calls"
	"github.com/MikeSquared-Agency/callq/internal/eligibility"
	"github.com/MikeSquared-Agency/callq/internal/prompt"
)

// CallSource lists one day of calls with their transcripts.
type CallSource interface {
	FetchCalls(ctx context.Context, day time.Time) ([]calls.Record, error)
}

// RubricSource provides the check-list and the custom prompt instructions.
type RubricSource interface {
	FetchRubric(ctx context.Context) (calls.Rubric, error)
	FetchInstructions(ctx context.Context) ([]string, error)
}

// OperatorSource provides the operator reference rows of a department.
type OperatorSource interface {
	LoadOperators(ctx context.Context, departmentID int) ([]eligibility.Operator, error)
}

// Sink persists results and the run ledger.
type Sink interface {
	SaveResults(ctx context.Context, runID uuid.UUID, results []analysis.Result) error
	RecordRun(ctx context.Context, stats analysis.Stats, runErr error) error
}

// Notifier is told about every finished or failed batch. Notifier errors are
// logged and never fail the run.
type Notifier interface {
	Notify(ctx context.Context, day time.Time, stats analysis.Stats, results []analysis.Result, runErr error) error
}

// starter is implemented by notifiers that also want to know when a batch
// begins.
type starter interface {
	Started(day time.Time)
}

// Engine scores a batch.
type Engine interface {
	AnalyzeBatch(ctx context.Context, in analysis.Input, cfg analysis.Config) ([]analysis.Result, analysis.Stats, error)
}

type Config struct {
	PromptFile   string
	DepartmentID int
	Analysis     analysis.Config
}

type Pipeline struct {
	cfg       Config
	calls     CallSource
	rubric    RubricSource
	operators OperatorSource
	engine    Engine
	sink      Sink
	notifiers []Notifier
	logger    *slog.Logger
}

func New(cfg Config, src CallSource, rubric RubricSource, ops OperatorSource, engine Engine, sink Sink, logger *slog.Logger, notifiers ...Notifier) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		calls:     src,
		rubric:    rubric,
		operators: ops,
		engine:    engine,
		sink:      sink,
		notifiers: notifiers,
		logger:    logger,
	}
}

// Run scores the calls of day. Results are persisted even when the batch is
// aborted part-way, so a rerun only has to redo what is missing. The
// returned error is the batch error, or the persistence error when the batch
// itself succeeded.
func (p *Pipeline) Run(ctx context.Context, day time.Time) (analysis.Stats, error) {
	logger := p.logger.With("day", day.Format(time.DateOnly), "department_id", p.cfg.DepartmentID)
	for _, n := range p.notifiers {
		if s, ok := n.(starter); ok {
			s.Started(day)
		}
	}

	in, err := p.prepare(ctx, logger, day)
	if err != nil {
		stats := analysis.Stats{RunID: uuid.New(), Model: p.cfg.Analysis.Model}
		stats.StartedAt = time.Now().UTC()
		stats.FinishedAt = stats.StartedAt
		p.finish(ctx, logger, day, stats, nil, err)
		return stats, err
	}

	results, stats, runErr := p.engine.AnalyzeBatch(ctx, in, p.cfg.Analysis)
	if stats.FinishedAt.IsZero() {
		stats.FinishedAt = time.Now().UTC()
	}

	// persist with a fresh context so a cancelled run still keeps its results
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	var saveErr error
	if len(results) > 0 {
		if err := p.sink.SaveResults(saveCtx, stats.RunID, results); err != nil {
			saveErr = fmt.Errorf("save results: %w", err)
			logger.Error("failed to persist results", "run_id", stats.RunID, "error", err)
		}
	}

	p.finish(saveCtx, logger, day, stats, results, runErr)

	if runErr != nil {
		return stats, runErr
	}
	return stats, saveErr
}

func (p *Pipeline) prepare(ctx context.Context, logger *slog.Logger, day time.Time) (analysis.Input, error) {
	tmpl, err := prompt.LoadTemplate(p.cfg.PromptFile)
	if err != nil {
		return analysis.Input{}, err
	}

	rubric, err := p.rubric.FetchRubric(ctx)
	if err != nil {
		return analysis.Input{}, fmt.Errorf("load rubric: %w", err)
	}
	instructions, err := p.rubric.FetchInstructions(ctx)
	if err != nil {
		return analysis.Input{}, fmt.Errorf("load instructions: %w", err)
	}

	records, err := p.calls.FetchCalls(ctx, day)
	if err != nil {
		return analysis.Input{}, fmt.Errorf("fetch calls: %w", err)
	}

	rows, err := p.operators.LoadOperators(ctx, p.cfg.DepartmentID)
	if err != nil {
		return analysis.Input{}, fmt.Errorf("load operators: %w", err)
	}
	ops := eligibility.NewOperators(rows)
	if ops.Len() == 0 {
		logger.Warn("operator reference table is empty, operator check disabled")
		ops = nil
	} else if unknown := ops.Resolve(records); len(unknown) > 0 {
		logger.Warn("operators not in reference table", "count", len(unknown), "names", unknown)
	}

	logger.Info("batch input ready",
		"calls", len(records),
		"criteria", len(rubric.Criteria),
		"instructions", len(instructions),
		"operators", ops.Len())

	return analysis.Input{
		Records:      records,
		Rubric:       rubric,
		Template:     tmpl,
		Instructions: instructions,
		Operators:    ops,
	}, nil
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, day time.Time, stats analysis.Stats, results []analysis.Result, runErr error) {
	if err := p.sink.RecordRun(ctx, stats, runErr); err != nil {
		logger.Error("failed to record run", "run_id", stats.RunID, "error", err)
	}
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, day, stats, results, runErr); err != nil {
			logger.Warn("notification failed", "run_id", stats.RunID, "error", err)
		}
	}
	if runErr != nil {
		logger.Error("batch did not complete", "run_id", stats.RunID, "error", runErr,
			"configuration_fault", errors.Is(runErr, prompt.ErrConfiguration))
	}
}
