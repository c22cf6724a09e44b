package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

// SaveResults writes every result in its own transaction. A failing call does
// not prevent the others from being written; all failures are returned
// joined.
func (s *Store) SaveResults(ctx context.Context, runID uuid.UUID, results []analysis.Result) error {
	var errs []error
	saved := 0
	for i := range results {
		if err := s.SaveResult(ctx, runID, &results[i]); err != nil {
			s.logger.Error("failed to save call", "call_id", results[i].CallID, "error", err)
			errs = append(errs, fmt.Errorf("call %d: %w", results[i].CallID, err))
			continue
		}
		saved++
	}
	s.logger.Info("results saved", "run_id", runID, "saved", saved, "failed", len(errs))
	return errors.Join(errs...)
}

// SaveResult writes one call and its assessment. Saving a call again
// replaces everything previously stored for it.
// Tables: calls, call_transcripts, call_evaluations, call_recommendations,
// agreements, call_decline_reasons, call_analysis.
func (s *Store) SaveResult(ctx context.Context, runID uuid.UUID, r *analysis.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a := r.Assessment
	if a != nil && !a.IsSalesCall {
		a = nil
	}

	// 1. Upsert call
	var total, maxScore, pct *int
	if a != nil {
		total, maxScore, pct = intPtr(a.TotalScore), intPtr(a.MaxPossibleScore), intPtr(a.PerformancePercentage)
	}
	var operatorID *int64
	if r.Call.OperatorID != 0 {
		operatorID = &r.Call.OperatorID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO calls (id, start_time, finish_time, operator_id, department_id, phone_number,
			total_score, max_score, performance_percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			finish_time = EXCLUDED.finish_time,
			operator_id = EXCLUDED.operator_id,
			department_id = EXCLUDED.department_id,
			phone_number = EXCLUDED.phone_number,
			total_score = EXCLUDED.total_score,
			max_score = EXCLUDED.max_score,
			performance_percentage = EXCLUDED.performance_percentage`,
		r.CallID, r.Call.StartedAt, r.Call.EndedAt, operatorID, r.Call.DepartmentID, nullString(r.Call.PhoneNumber),
		total, maxScore, pct,
	)
	if err != nil {
		return fmt.Errorf("upsert call: %w", err)
	}

	// 2. Upsert transcript
	if !r.Transcript.Empty() {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_transcripts (call_id, transcript)
			VALUES ($1, $2)
			ON CONFLICT (call_id) DO UPDATE SET transcript = EXCLUDED.transcript`,
			r.CallID, r.Transcript.Text(),
		)
		if err != nil {
			return fmt.Errorf("upsert transcript: %w", err)
		}
	}

	// 3. Replace the assessment rows
	for _, table := range []string{"call_evaluations", "call_recommendations", "agreements", "call_decline_reasons"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE call_id = $1", r.CallID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if a != nil {
		if err := s.insertAssessment(ctx, tx, r.CallID, a); err != nil {
			return err
		}
	}

	// 4. Upsert analysis outcome
	_, err = tx.Exec(ctx, `
		INSERT INTO call_analysis (call_id, run_id, status, skip_reason, failure_reason, error, model, attempts,
			prompt_tokens, completion_tokens, unknown_usage_attempts, result, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (call_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			skip_reason = EXCLUDED.skip_reason,
			failure_reason = EXCLUDED.failure_reason,
			error = EXCLUDED.error,
			model = EXCLUDED.model,
			attempts = EXCLUDED.attempts,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			unknown_usage_attempts = EXCLUDED.unknown_usage_attempts,
			result = EXCLUDED.result,
			completed_at = EXCLUDED.completed_at`,
		r.CallID, runID, string(r.Status), nullString(r.SkipReason), nullString(r.FailureReason), nullString(r.Error),
		nullString(r.Model), r.Attempts, r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.UnknownAttempts,
		payload, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) insertAssessment(ctx context.Context, tx pgx.Tx, callID int64, a *analysis.Assessment) error {
	skipped := 0
	for _, e := range a.Evaluations {
		if e.ScoreGiven == nil || e.MaxScore == nil {
			skipped++
			s.logger.Warn("evaluation without score skipped",
				"call_id", callID, "category", e.Category, "criterion", e.Criterion)
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO call_evaluations (call_id, category, criterion, score, max_score, reason)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			callID, e.Category, e.Criterion, int(*e.ScoreGiven), int(*e.MaxScore), e.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
	}
	if skipped > 0 {
		s.logger.Warn("evaluations skipped", "call_id", callID, "count", skipped)
	}

	for _, rec := range a.Recommendations {
		_, err := tx.Exec(ctx, `
			INSERT INTO call_recommendations (call_id, category, issue, recommendation, priority)
			VALUES ($1, $2, $3, $4, $5)`,
			callID, rec.Category, rec.Issue, rec.Recommendation, rec.Priority,
		)
		if err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
	}

	for _, agr := range a.Agreements {
		var amount *int
		if agr.Amount != nil {
			amount = intPtr(*agr.Amount)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO agreements (call_id, amount, agreement)
			VALUES ($1, $2, $3)`,
			callID, amount, agr.Agreement,
		)
		if err != nil {
			return fmt.Errorf("insert agreement: %w", err)
		}
	}

	for _, d := range a.DeclineReasons {
		_, err := tx.Exec(ctx, `
			INSERT INTO call_decline_reasons (call_id, reason_type, reason_description, product_category)
			VALUES ($1, $2, $3, $4)`,
			callID, d.ReasonType, d.ReasonDescription, d.ProductCategory,
		)
		if err != nil {
			return fmt.Errorf("insert decline reason: %w", err)
		}
	}
	return nil
}

func intPtr(s analysis.Score) *int {
	v := int(s)
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
