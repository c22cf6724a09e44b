package calls

import (
	"strings"
	"time"
)

// Channel labels used when rendering a transcript.
const (
	ChannelOperator = "operator"
	ChannelClient   = "client"
)

// Call is one telephony session as fetched from the provider. It is read-only
// for the duration of a run.
type Call struct {
	ID            int64         `json:"id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Duration      time.Duration `json:"duration"`
	OperatorID    int64         `json:"operator_id"`
	OperatorName  string        `json:"operator_name"`
	OperatorLogin string        `json:"operator_login,omitempty"`
	DepartmentID  int           `json:"department_id"`
	Direction     string        `json:"direction,omitempty"`
	PhoneNumber   string        `json:"phone_number,omitempty"`
}

// Phrase is a single utterance in a transcript.
type Phrase struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
}

// Transcript holds the ordered utterances of one call.
type Transcript struct {
	CallID  int64    `json:"call_id"`
	Phrases []Phrase `json:"phrases"`
}

// Empty reports whether the transcript carries no spoken text.
func (t *Transcript) Empty() bool {
	if t == nil {
		return true
	}
	for _, p := range t.Phrases {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// Text renders the transcript one "channel: text" line per phrase.
func (t *Transcript) Text() string {
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range t.Phrases {
		sb.WriteString(p.Channel)
		sb.WriteString(": ")
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Record pairs a call with its transcript. Transcript is nil when the
// provider has none for the call.
type Record struct {
	Call       Call
	Transcript *Transcript
}

// Criterion is one scoring rule of a rubric.
type Criterion struct {
	ID         string `json:"id" yaml:"id"`
	Category   string `json:"category" yaml:"category"`
	Indicator  string `json:"indicator" yaml:"indicator"`
	Comment    string `json:"comment,omitempty" yaml:"comment"`
	MaxScore   string `json:"max_score" yaml:"max_score"`
	Conditions string `json:"conditions" yaml:"conditions"`
}

// Rubric is the ordered list of criteria a call is scored against.
type Rubric struct {
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}
