package analysis

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MikeSquared-Agency/callq/internal/llm"
)

type phase int

const (
	phasePending phase = iota
	phaseRetrying
	phaseSucceeded
	phaseFailed
	// phaseAborted means the batch must stop; the call gets no result.
	phaseAborted
)

func (p phase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseRetrying:
		return "retrying"
	case phaseSucceeded:
		return "succeeded"
	case phaseFailed:
		return "failed"
	case phaseAborted:
		return "aborted"
	}
	return "unknown"
}

// attempt is the per-call request state machine:
//
//	pending -> succeeded | retrying | failed | aborted
//	retrying -> succeeded | retrying | failed | aborted
//
// Validation failures and transport failures have separate budgets of
// maxAttempts each.
type attempt struct {
	phase       phase
	maxAttempts int
	repairDelay time.Duration
	backoff     backoff.BackOff

	requests           int
	validationFailures int
	transportFailures  int
	usage              TokenUsage

	assessment *Assessment
	reason     string
	lastErr    error
	// invalid holds the last validation error while the next request
	// should carry a repair instruction.
	invalid error
}

func newAttempt(cfg Config) *attempt {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &attempt{
		phase:       phasePending,
		maxAttempts: cfg.MaxAttempts,
		repairDelay: cfg.RepairDelay,
		backoff:     b,
	}
}

func (a *attempt) done() bool {
	return a.phase >= phaseSucceeded
}

// observe folds one request outcome into the state and returns how long to
// wait before the next request. usage is nil when no answer arrived; err is
// nil exactly when assessment is valid.
func (a *attempt) observe(usage *llm.Usage, assessment *Assessment, err error) time.Duration {
	if a.done() {
		return 0
	}
	a.requests++
	if usage != nil {
		a.usage.add(*usage)
	}

	if err == nil {
		a.phase = phaseSucceeded
		a.assessment = assessment
		a.lastErr = nil
		a.invalid = nil
		return 0
	}
	a.lastErr = err

	if errors.Is(err, ErrValidation) {
		a.validationFailures++
		if a.validationFailures >= a.maxAttempts {
			a.fail(ReasonValidationExhausted)
			return 0
		}
		a.phase = phaseRetrying
		a.invalid = err
		return a.repairDelay
	}

	kind := llm.KindOf(err)
	if kind == llm.KindAuth {
		a.phase = phaseAborted
		return 0
	}

	a.transportFailures++
	if a.transportFailures >= a.maxAttempts {
		a.fail(failureReason(kind))
		return 0
	}
	a.phase = phaseRetrying
	switch kind {
	case llm.KindRateLimited, llm.KindServer, llm.KindRejected:
		return a.backoff.NextBackOff()
	}
	return 0
}

func (a *attempt) fail(reason string) {
	a.phase = phaseFailed
	a.reason = reason
}

func failureReason(kind llm.Kind) string {
	switch kind {
	case llm.KindTimeout:
		return ReasonTimeout
	case llm.KindRateLimited:
		return ReasonRateLimited
	case llm.KindServer:
		return ReasonServer
	case llm.KindRejected:
		return ReasonRejected
	}
	return ReasonTransport
}
