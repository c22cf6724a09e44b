package tbank

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTQM is a minimal stand-in for the provider API.
type fakeTQM struct {
	t *testing.T

	mu          sync.Mutex
	searches    []map[string]any
	transcripts []int64
	failFirst   atomic.Bool
}

func (f *fakeTQM) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
			return
		}
		if body["authentificationType"] != "tqm" {
			f.t.Errorf("unexpected auth type %q", body["authentificationType"])
		}
		_, _ = w.Write([]byte(`{"accessToken":"tok-1","userLogin":"bot"}`))
	})

	mux.HandleFunc(autocompletePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("term") != "Продажи" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id": "12", "name": "Отдел продаж", "type": null}]`))
	})

	mux.HandleFunc(callsPath, func(w http.ResponseWriter, r *http.Request) {
		if f.failFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.searches = append(f.searches, body)
		f.mu.Unlock()

		paging := body["paging"].(map[string]any)
		switch paging["page"].(float64) {
		case 1:
			_, _ = w.Write([]byte(`{"items": [
				{"segmentId": 101, "startDate": "2026-10-17T09:15:00", "endDate": "2026-10-17T09:20:00", "duration": 300,
				 "operatorUserId": 5, "operatorUserFullName": " Анна Смирнова ", "callDirection": "outgoing", "clientPhoneNumber": "79990001122"},
				{"id": "102", "startDate": "2026-10-17 10:00:00", "duration": 12, "operatorUserId": 6, "operatorUserFullName": "Иван Петров"}
			], "nextPage": 2}`))
		case 2:
			_, _ = w.Write([]byte(`{"items": [
				{"segmentId": 103, "startDate": "2026-10-17T11:00:00+03:00", "duration": "95", "operatorUserId": 5, "operatorUserFullName": "Анна Смирнова"}
			], "nextPage": null}`))
		default:
			f.t.Errorf("unexpected page %v", paging["page"])
		}
	})

	mux.HandleFunc(transcriptPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SegmentID int64 `json:"segmentId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.transcripts = append(f.transcripts, body.SegmentID)
		f.mu.Unlock()

		if body.SegmentID == 103 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"firstOperatorId": 900, "transcriptionParts": [
			{"phrases": [
				{"contactId": 900, "phraseText": "Здравствуйте, компания Ромашка", "startTimeInMs": 0},
				{"contactId": 901, "phraseText": "Добрый день", "startTimeInMs": 2100}
			]},
			{"phrases": [{"contactId": "900", "phraseText": "Чем могу помочь?", "startTimeInMs": 4000}]}
		]}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeTQM) (*Client, *httptest.Server) {
	srv := httptest.NewServer(f.handler())
	c := NewClient(srv.URL, discardLogger())
	c.retryDelay = time.Millisecond
	return c, srv
}

func TestSource_FetchCalls(t *testing.T) {
	f := &fakeTQM{t: t}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	src := NewSource(c, SourceConfig{
		Login:        "bot",
		Password:     "secret",
		AgentGroup:   "Продажи",
		DepartmentID: 2,
		MinDuration:  30 * time.Second,
	}, discardLogger())

	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	records, err := src.FetchCalls(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records across two pages, got %d", len(records))
	}

	first := records[0]
	if first.Call.ID != 101 || first.Call.Duration != 5*time.Minute || first.Call.DepartmentID != 2 {
		t.Errorf("unexpected call %+v", first.Call)
	}
	if first.Call.OperatorName != "Анна Смирнова" || first.Call.PhoneNumber != "79990001122" {
		t.Errorf("unexpected operator fields %+v", first.Call)
	}
	if !first.Call.StartedAt.Equal(time.Date(2026, 10, 17, 9, 15, 0, 0, time.UTC)) || first.Call.EndedAt == nil {
		t.Errorf("unexpected times %v / %v", first.Call.StartedAt, first.Call.EndedAt)
	}
	if first.Transcript == nil || len(first.Transcript.Phrases) != 3 {
		t.Fatalf("expected 3 phrases, got %+v", first.Transcript)
	}
	wantChannels := []string{calls.ChannelOperator, calls.ChannelClient, calls.ChannelOperator}
	for i, p := range first.Transcript.Phrases {
		if p.Channel != wantChannels[i] {
			t.Errorf("phrase %d: expected %s, got %s", i, wantChannels[i], p.Channel)
		}
	}
	if first.Transcript.Phrases[1].StartMs != 2100 {
		t.Errorf("expected start offset 2100, got %d", first.Transcript.Phrases[1].StartMs)
	}

	if records[1].Call.ID != 102 || records[1].Transcript != nil {
		t.Errorf("expected short call without transcript, got %+v", records[1])
	}
	if records[2].Call.Duration != 95*time.Second || records[2].Transcript != nil {
		t.Errorf("expected failed transcript to leave nil, got %+v", records[2])
	}
	if records[2].Call.StartedAt.UTC().Hour() != 8 {
		t.Errorf("expected zoned timestamp honoured, got %v", records[2].Call.StartedAt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.transcripts {
		if id == 102 {
			t.Error("transcript fetched for a call below the minimum duration")
		}
	}

	search := f.searches[0]
	filters := search["filters"].(map[string]any)
	date := filters["date"].(map[string]any)
	if date["min"] != "2026-10-17 00:00:00" || date["max"] != "2026-10-17 23:59:59" {
		t.Errorf("unexpected date filter %v", date)
	}
	agent := filters["agent"].([]any)[0].(map[string]any)
	if agent["id"].(float64) != 12 || agent["type"] != "workGroup" || agent["title"] != "Отдел продаж" {
		t.Errorf("unexpected agent filter %v", agent)
	}
	if filters["isNGramSearch"] != false {
		t.Error("expected isNGramSearch=false")
	}
	if search["paging"].(map[string]any)["itemsPerPage"].(float64) != 1000 {
		t.Errorf("unexpected paging %v", search["paging"])
	}
}

func TestSource_BadCredentials(t *testing.T) {
	f := &fakeTQM{t: t}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	src := NewSource(c, SourceConfig{Login: "bot", Password: "wrong"}, discardLogger())
	_, err := src.FetchCalls(context.Background(), time.Now())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSource_UnknownGroup(t *testing.T) {
	f := &fakeTQM{t: t}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	src := NewSource(c, SourceConfig{Login: "bot", Password: "secret", AgentGroup: "Нет такой"}, discardLogger())
	if _, err := src.FetchCalls(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	f := &fakeTQM{t: t}
	f.failFirst.Store(true)
	c, srv := newTestClient(t, f)
	defer srv.Close()

	if err := c.Login(context.Background(), "bot", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := c.CallsForDay(context.Background(), time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 calls, got %d", len(got))
	}
}

func TestClient_RequiresLogin(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", discardLogger())
	if _, err := c.Transcript(context.Background(), 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		in   string
		want flexInt
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`null`, 0},
		{`"abc"`, 0},
		{`12.0`, 12},
	}
	for _, tt := range tests {
		var f flexInt
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if f != tt.want {
			t.Errorf("flexInt(%s) = %d, want %d", tt.in, f, tt.want)
		}
	}
}
