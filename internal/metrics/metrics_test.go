package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.CallFinished("scored", "")
	if got := testutil.ToFloat64(a.CallsTotal.WithLabelValues("scored", "")); got != 1 {
		t.Errorf("expected 1 scored call, got %v", got)
	}
	if got := testutil.ToFloat64(b.CallsTotal.WithLabelValues("scored", "")); got != 0 {
		t.Errorf("expected second instance untouched, got %v", got)
	}
}

func TestRequestLifecycle(t *testing.T) {
	m := New()

	m.RequestStarted()
	m.RequestStarted()
	if got := testutil.ToFloat64(m.LLMInFlight); got != 2 {
		t.Errorf("expected 2 in flight, got %v", got)
	}

	m.RequestFinished("ok", time.Second)
	m.RequestFinished("rate_limited", 2*time.Second)
	if got := testutil.ToFloat64(m.LLMInFlight); got != 0 {
		t.Errorf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("expected 1 rate_limited request, got %v", got)
	}

	m.AddTokens(100, 20)
	m.AddTokens(50, 5)
	if got := testutil.ToFloat64(m.TokensConsumed.WithLabelValues("prompt")); got != 150 {
		t.Errorf("expected 150 prompt tokens, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RequestStarted()
	m.RequestFinished("ok", time.Second)
	m.AddTokens(1, 1)
	m.CallFinished("failed", "llm_timeout")
	m.BatchFinished("completed", time.Minute, time.Now())
}

func TestHandler(t *testing.T) {
	m := New()
	m.BatchFinished("completed", 90*time.Second, time.Unix(1700000000, 0))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`callq_batches_total{outcome="completed"} 1`,
		"callq_last_batch_finished_timestamp_seconds 1.7e+09",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}
