package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callq/internal/calls"
	"github.com/MikeSquared-Agency/callq/internal/llm"
)

// Status is the terminal state of one call in a batch.
type Status string

const (
	StatusScored  Status = "scored"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Skip reasons produced after the eligibility filter has passed a call.
const (
	ReasonNotSalesCall = "not_sales_call"
)

// Failure reasons for calls that exhausted their attempt budget.
const (
	ReasonValidationExhausted = "schema_validation_exhausted"
	ReasonTimeout             = "llm_timeout"
	ReasonTransport           = "llm_transport_error"
	ReasonRateLimited         = "llm_rate_limited"
	ReasonServer              = "llm_server_error"
	ReasonRejected            = "llm_rejected"
)

// TokenUsage accumulates usage over every request made for one call.
// UnknownAttempts counts requests whose usage the endpoint did not report;
// they contribute nothing to the token sums.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	UnknownAttempts  int   `json:"unknown_attempts,omitempty"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

func (u *TokenUsage) add(usage llm.Usage) {
	if !usage.Known {
		u.UnknownAttempts++
		return
	}
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
}

// Result is produced exactly once for every call the batch finishes.
type Result struct {
	CallID        int64             `json:"call_id"`
	Call          calls.Call        `json:"call"`
	Transcript    *calls.Transcript `json:"transcript,omitempty"`
	Status        Status            `json:"status"`
	SkipReason    string            `json:"skip_reason,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Error         string            `json:"error,omitempty"`
	Assessment    *Assessment       `json:"assessment,omitempty"`
	Usage         TokenUsage        `json:"usage"`
	Attempts      int               `json:"attempts"`
	Model         string            `json:"model,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Stats summarizes one batch. Total always equals
// Scored + Skipped + Failed + Abandoned.
type Stats struct {
	RunID                uuid.UUID      `json:"run_id"`
	Model                string         `json:"model"`
	Total                int            `json:"total"`
	Eligible             int            `json:"eligible"`
	Skipped              int            `json:"skipped"`
	Scored               int            `json:"scored"`
	Failed               int            `json:"failed"`
	Abandoned            int            `json:"abandoned"`
	SkipReasons          map[string]int `json:"skip_reasons,omitempty"`
	PromptTokens         int64          `json:"prompt_tokens"`
	CompletionTokens     int64          `json:"completion_tokens"`
	TotalTokens          int64          `json:"total_tokens"`
	UnknownUsageAttempts int            `json:"unknown_usage_attempts"`
	LLMRequests          int            `json:"llm_requests"`
	StartedAt            time.Time      `json:"started_at"`
	FinishedAt           time.Time      `json:"finished_at"`
	Duration             time.Duration  `json:"duration"`
}
