package hermes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

// Subjects used by callq.
const (
	SubjectBatchCompleted = "callq.batch.completed"
	SubjectBatchAborted   = "callq.batch.aborted"
	SubjectBatchTrigger   = "callq.batch.trigger"
)

// BatchEvent is published once per finished batch.
type BatchEvent struct {
	EventID   string         `json:"event_id"`
	RunID     string         `json:"run_id"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Stats     analysis.Stats `json:"stats"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewBatchEvent builds the event for a batch and returns the subject it
// belongs on. runErr is nil for a completed batch.
func NewBatchEvent(stats analysis.Stats, runErr error, now time.Time) (string, BatchEvent) {
	ev := BatchEvent{
		EventID:   uuid.New().String(),
		RunID:     stats.RunID.String(),
		Outcome:   "completed",
		Stats:     stats,
		Timestamp: now.UTC(),
	}
	if runErr != nil {
		ev.Outcome = "aborted"
		ev.Error = runErr.Error()
		return SubjectBatchAborted, ev
	}
	return SubjectBatchCompleted, ev
}

// TriggerRequest asks a serving instance to run a batch. Day is YYYY-MM-DD;
// empty means the configured default day.
type TriggerRequest struct {
	Day         string `json:"day,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// ParseTrigger decodes a trigger message. An empty payload is a request for
// the default day.
func ParseTrigger(data []byte) (TriggerRequest, error) {
	var req TriggerRequest
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode trigger: %w", err)
	}
	if req.Day != "" {
		if _, err := time.Parse(time.DateOnly, req.Day); err != nil {
			return req, fmt.Errorf("trigger day %q: %w", req.Day, err)
		}
	}
	return req, nil
}
