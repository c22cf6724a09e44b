package analysis

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/callq/internal/llm"
)

func testAttemptConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  3 * time.Second,
		RepairDelay: 500 * time.Millisecond,
	}
}

var errInvalid = fmt.Errorf("%w: not json", ErrValidation)

func known(p, c int64) *llm.Usage {
	return &llm.Usage{PromptTokens: p, CompletionTokens: c, Known: true}
}

func TestAttempt_SucceedsFirstTime(t *testing.T) {
	a := newAttempt(testAttemptConfig())
	if a.phase != phasePending {
		t.Fatalf("expected pending, got %s", a.phase)
	}

	wait := a.observe(known(100, 20), &Assessment{IsSalesCall: true}, nil)
	if wait != 0 || a.phase != phaseSucceeded || !a.done() {
		t.Errorf("expected immediate success, got phase %s wait %s", a.phase, wait)
	}
	if a.requests != 1 || a.usage.Total() != 120 {
		t.Errorf("unexpected bookkeeping: requests %d usage %+v", a.requests, a.usage)
	}
}

func TestAttempt_RepairThenSuccess(t *testing.T) {
	a := newAttempt(testAttemptConfig())

	for i := 0; i < 2; i++ {
		wait := a.observe(known(10, 5), nil, errInvalid)
		if a.phase != phaseRetrying {
			t.Fatalf("attempt %d: expected retrying, got %s", i+1, a.phase)
		}
		if wait != 500*time.Millisecond {
			t.Errorf("attempt %d: expected repair delay, got %s", i+1, wait)
		}
		if a.invalid == nil {
			t.Errorf("attempt %d: expected next request to carry a repair instruction", i+1)
		}
	}

	a.observe(known(10, 5), &Assessment{IsSalesCall: true}, nil)
	if a.phase != phaseSucceeded {
		t.Fatalf("expected succeeded, got %s", a.phase)
	}
	if a.usage.PromptTokens != 30 || a.usage.CompletionTokens != 15 {
		t.Errorf("expected usage summed over three attempts, got %+v", a.usage)
	}
	if a.invalid != nil {
		t.Error("expected repair state cleared after success")
	}
}

func TestAttempt_ValidationExhausted(t *testing.T) {
	a := newAttempt(testAttemptConfig())
	for i := 0; i < 3; i++ {
		a.observe(known(10, 5), nil, errInvalid)
	}
	if a.phase != phaseFailed || a.reason != ReasonValidationExhausted {
		t.Errorf("expected failed/%s, got %s/%s", ReasonValidationExhausted, a.phase, a.reason)
	}
	if a.requests != 3 {
		t.Errorf("expected 3 requests, got %d", a.requests)
	}

	// Terminal states ignore further input.
	a.observe(known(10, 5), &Assessment{}, nil)
	if a.phase != phaseFailed || a.requests != 3 {
		t.Error("expected terminal state to be final")
	}
}

func TestAttempt_BackoffSchedule(t *testing.T) {
	cfg := testAttemptConfig()
	cfg.MaxAttempts = 5
	a := newAttempt(cfg)

	rateLimited := &llm.Error{Kind: llm.KindRateLimited, StatusCode: 429, Err: errors.New("slow down")}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := a.observe(nil, nil, rateLimited); got != w {
			t.Errorf("retry %d: expected wait %s, got %s", i+1, w, got)
		}
	}
	a.observe(nil, nil, rateLimited)
	if a.phase != phaseFailed || a.reason != ReasonRateLimited {
		t.Errorf("expected failed/%s, got %s/%s", ReasonRateLimited, a.phase, a.reason)
	}
}

func TestAttempt_TransportKinds(t *testing.T) {
	tests := []struct {
		kind      llm.Kind
		wantWait  bool
		wantFinal string
	}{
		{llm.KindTimeout, false, ReasonTimeout},
		{llm.KindTransport, false, ReasonTransport},
		{llm.KindServer, true, ReasonServer},
		{llm.KindRateLimited, true, ReasonRateLimited},
		{llm.KindRejected, true, ReasonRejected},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			a := newAttempt(testAttemptConfig())
			err := &llm.Error{Kind: tt.kind, Err: errors.New("boom")}

			wait := a.observe(nil, nil, err)
			if (wait > 0) != tt.wantWait {
				t.Errorf("unexpected wait %s", wait)
			}
			a.observe(nil, nil, err)
			a.observe(nil, nil, err)
			if a.phase != phaseFailed || a.reason != tt.wantFinal {
				t.Errorf("expected failed/%s, got %s/%s", tt.wantFinal, a.phase, a.reason)
			}
			if a.usage.UnknownAttempts != 0 {
				t.Error("requests without an answer must not count as unknown usage")
			}
		})
	}
}

func TestAttempt_SeparateBudgets(t *testing.T) {
	a := newAttempt(testAttemptConfig())
	timeout := &llm.Error{Kind: llm.KindTimeout, Err: errors.New("slow")}

	a.observe(known(1, 1), nil, errInvalid)
	a.observe(nil, nil, timeout)
	a.observe(known(1, 1), nil, errInvalid)
	a.observe(nil, nil, timeout)
	if a.phase != phaseRetrying {
		t.Fatalf("expected retrying with two failures of each kind, got %s", a.phase)
	}
	if a.invalid == nil {
		t.Error("expected repair instruction to survive a transport failure")
	}

	a.observe(known(1, 1), &Assessment{IsSalesCall: true}, nil)
	if a.phase != phaseSucceeded || a.requests != 5 {
		t.Errorf("expected success on fifth request, got %s after %d", a.phase, a.requests)
	}
}

func TestAttempt_AuthAborts(t *testing.T) {
	a := newAttempt(testAttemptConfig())
	a.observe(nil, nil, &llm.Error{Kind: llm.KindAuth, StatusCode: 401, Err: errors.New("bad key")})
	if a.phase != phaseAborted || !a.done() {
		t.Errorf("expected aborted, got %s", a.phase)
	}
}

func TestAttempt_UnknownUsage(t *testing.T) {
	a := newAttempt(testAttemptConfig())
	a.observe(&llm.Usage{}, nil, errInvalid)
	a.observe(known(10, 2), &Assessment{IsSalesCall: true}, nil)

	if a.usage.UnknownAttempts != 1 {
		t.Errorf("expected 1 unknown-usage attempt, got %d", a.usage.UnknownAttempts)
	}
	if a.usage.Total() != 12 {
		t.Errorf("expected only known usage summed, got %d", a.usage.Total())
	}
}
