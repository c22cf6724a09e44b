package hermes

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

func TestNewBatchEvent(t *testing.T) {
	stats := analysis.Stats{RunID: uuid.New(), Total: 10, Scored: 6, Skipped: 3, Failed: 1}
	now := time.Date(2026, 10, 19, 3, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	subject, ev := NewBatchEvent(stats, nil, now)
	if subject != SubjectBatchCompleted || ev.Outcome != "completed" || ev.Error != "" {
		t.Errorf("unexpected completed event %s %+v", subject, ev)
	}
	if ev.RunID != stats.RunID.String() {
		t.Errorf("expected run id %s, got %s", stats.RunID, ev.RunID)
	}
	if _, err := uuid.Parse(ev.EventID); err != nil {
		t.Errorf("event id is not a uuid: %v", err)
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", ev.Timestamp)
	}

	subject, aborted := NewBatchEvent(stats, errors.New("batch aborted: auth_error"), now)
	if subject != SubjectBatchAborted || aborted.Outcome != "aborted" || aborted.Error != "batch aborted: auth_error" {
		t.Errorf("unexpected aborted event %s %+v", subject, aborted)
	}
	if aborted.EventID == ev.EventID {
		t.Error("expected distinct event ids")
	}
}

func TestBatchEventJSON(t *testing.T) {
	stats := analysis.Stats{RunID: uuid.New(), Total: 1, Scored: 1, TotalTokens: 1500}
	_, ev := NewBatchEvent(stats, nil, time.Now())

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["error"]; ok {
		t.Error("expected error to be omitted for a completed batch")
	}
	s := fields["stats"].(map[string]any)
	if s["total_tokens"].(float64) != 1500 || s["run_id"] != stats.RunID.String() {
		t.Errorf("unexpected stats payload %v", s)
	}
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    TriggerRequest
		wantErr bool
	}{
		{"empty", "", TriggerRequest{}, false},
		{"whitespace", "  \n", TriggerRequest{}, false},
		{"default day", `{"requested_by": "ops"}`, TriggerRequest{RequestedBy: "ops"}, false},
		{"explicit day", `{"day": "2026-10-17"}`, TriggerRequest{Day: "2026-10-17"}, false},
		{"bad day", `{"day": "17.10.2026"}`, TriggerRequest{}, true},
		{"bad json", `{"day":`, TriggerRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTrigger([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
