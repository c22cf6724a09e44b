package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

// Run outcomes written to the run ledger.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// RecordRun writes one row of the run ledger. runErr is nil for a completed
// batch.
func (s *Store) RecordRun(ctx context.Context, stats analysis.Stats, runErr error) error {
	outcome, errText := runOutcome(runErr)
	reasons, err := json.Marshal(stats.SkipReasons)
	if err != nil {
		return fmt.Errorf("marshal skip reasons: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_runs (id, model, outcome, error, total, eligible, skipped, scored, failed, abandoned,
			skip_reasons, prompt_tokens, completion_tokens, unknown_usage_attempts, llm_requests, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		stats.RunID, stats.Model, outcome, errText, stats.Total, stats.Eligible, stats.Skipped, stats.Scored,
		stats.Failed, stats.Abandoned, reasons, stats.PromptTokens, stats.CompletionTokens,
		stats.UnknownUsageAttempts, stats.LLMRequests, stats.StartedAt, stats.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	s.logger.Info("run recorded", "run_id", stats.RunID, "outcome", outcome)
	return nil
}

func runOutcome(runErr error) (string, *string) {
	if runErr == nil {
		return OutcomeCompleted, nil
	}
	msg := runErr.Error()
	return OutcomeAborted, &msg
}
