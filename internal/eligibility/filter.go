// Package eligibility decides which fetched calls are worth sending to the
// model for scoring.
package eligibility

import (
	"time"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// Reason explains why a call is not eligible.
type Reason string

const (
	ReasonTooShort        Reason = "too_short"
	ReasonNoTranscript    Reason = "no_transcript"
	ReasonUnknownOperator Reason = "unknown_operator"
)

// DefaultMinDuration is the shortest call worth scoring.
const DefaultMinDuration = 30 * time.Second

// Verdict is the outcome of a Check.
type Verdict struct {
	Eligible bool
	Reason   Reason
}

// Filter holds the eligibility rules. A nil Operators set disables the
// operator check.
type Filter struct {
	MinDuration time.Duration
	Operators   *Operators
}

// Check evaluates one record. Duration is checked first, then transcript
// presence, then operator identity.
func (f Filter) Check(rec calls.Record) Verdict {
	if rec.Call.Duration < f.MinDuration {
		return Verdict{Reason: ReasonTooShort}
	}
	if rec.Transcript.Empty() {
		return Verdict{Reason: ReasonNoTranscript}
	}
	if f.Operators != nil {
		if _, ok := f.Operators.Lookup(rec.Call.OperatorName); !ok {
			return Verdict{Reason: ReasonUnknownOperator}
		}
	}
	return Verdict{Eligible: true}
}
