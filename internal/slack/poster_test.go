package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testDay = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func testStats() analysis.Stats {
	return analysis.Stats{
		RunID:            uuid.MustParse("9f6ed519-0000-0000-0000-000000000000"),
		Model:            "gpt-4o-mini",
		Total:            12,
		Eligible:         8,
		Skipped:          5,
		Scored:           6,
		Failed:           1,
		SkipReasons:      map[string]int{"too_short": 3, "not_sales_call": 1, "no_transcript": 1},
		PromptTokens:     42000,
		CompletionTokens: 6000,
		TotalTokens:      48000,
		LLMRequests:      10,
		Duration:         3*time.Minute + 400*time.Millisecond,
	}
}

func TestFormatSummary_Completed(t *testing.T) {
	msg := formatSummary(testDay, testStats(), nil)

	checks := []string{
		"2026-10-17 finished",
		"3m0s",
		"*Calls:* 12 | *Scored:* 6 | *Skipped:* 5 | *Failed:* 1",
		"no_transcript: 1, not_sales_call: 1, too_short: 3",
		"*Tokens:* 48000 (prompt 42000, completion 6000) over 10 requests",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
	if strings.Contains(msg, "Abandoned") {
		t.Error("did not expect abandoned count for a completed batch")
	}
}

func TestFormatSummary_Aborted(t *testing.T) {
	stats := testStats()
	stats.Abandoned = 4
	stats.UnknownUsageAttempts = 2

	msg := formatSummary(testDay, stats, errors.New("batch aborted: llm auth_error (status 401)"))
	for _, check := range []string{"aborted", "auth_error", "*Abandoned:* 4", "usage unknown for 2"} {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
}

func TestFormatSummary_NothingToScore(t *testing.T) {
	if msg := formatSummary(testDay, analysis.Stats{}, nil); !strings.Contains(msg, "No calls found") {
		t.Errorf("expected empty-day notice, got %q", msg)
	}
	stats := analysis.Stats{Total: 3, Skipped: 3, SkipReasons: map[string]int{"too_short": 3}}
	if msg := formatSummary(testDay, stats, nil); !strings.Contains(msg, "Nothing was eligible") {
		t.Errorf("expected nothing-eligible notice, got %q", msg)
	}
}

func TestFormatFailures(t *testing.T) {
	if got := formatFailures([]analysis.Result{{CallID: 1, Status: analysis.StatusScored}}); got != "" {
		t.Errorf("expected no failure list, got %q", got)
	}

	var results []analysis.Result
	for i := 0; i < maxListedFailures+3; i++ {
		results = append(results, analysis.Result{CallID: int64(100 + i), Status: analysis.StatusFailed, FailureReason: analysis.ReasonTimeout})
	}
	got := formatFailures(results)
	if !strings.Contains(got, "Failed calls (23)") || !strings.Contains(got, "call 100: llm_timeout") || !strings.Contains(got, "and 3 more") {
		t.Errorf("unexpected failure list %q", got)
	}
	if strings.Contains(got, "call 122") {
		t.Error("expected list to be capped")
	}
}

func TestPostBatchSummary_Success(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	results := []analysis.Result{
		{CallID: 7, Status: analysis.StatusScored},
		{CallID: 8, Status: analysis.StatusFailed, FailureReason: analysis.ReasonValidationExhausted},
	}
	ts, err := p.PostBatchSummary(context.Background(), testDay, testStats(), results, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("expected summary and thread reply, got %d posts", len(payloads))
	}
	if _, ok := payloads[0]["blocks"]; !ok {
		t.Error("expected blocks in the summary")
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("expected reply in thread, got %v", payloads[1]["thread_ts"])
	}
	if text, _ := payloads[1]["text"].(string); !strings.Contains(text, "call 8: schema_validation_exhausted") {
		t.Errorf("unexpected thread text %q", text)
	}
}

func TestPostBatchSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostBatchSummary(context.Background(), testDay, testStats(), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}
