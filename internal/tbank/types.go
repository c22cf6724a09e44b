package tbank

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// RawCall is a call session as the provider reports it.
type RawCall struct {
	SegmentID            flexInt `json:"segmentId"`
	ID                   flexInt `json:"id"`
	StartDate            string  `json:"startDate"`
	EndDate              *string `json:"endDate"`
	Duration             flexInt `json:"duration"`
	OperatorUserID       flexInt `json:"operatorUserId"`
	OperatorUserLogin    string  `json:"operatorUserLogin"`
	OperatorUserFullName string  `json:"operatorUserFullName"`
	CallDirection        string  `json:"callDirection"`
	ClientPhoneNumber    string  `json:"clientPhoneNumber"`
}

// Segment returns the identifier used for transcript lookups.
func (r RawCall) Segment() int64 {
	if r.SegmentID != 0 {
		return int64(r.SegmentID)
	}
	return int64(r.ID)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseDate reads provider timestamps; zone-less values are taken in loc.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToCall converts the provider record for department dept.
func (r RawCall) ToCall(dept int, loc *time.Location) calls.Call {
	c := calls.Call{
		ID:            r.Segment(),
		Duration:      time.Duration(r.Duration) * time.Second,
		OperatorID:    int64(r.OperatorUserID),
		OperatorName:  strings.TrimSpace(r.OperatorUserFullName),
		OperatorLogin: r.OperatorUserLogin,
		DepartmentID:  dept,
		Direction:     r.CallDirection,
		PhoneNumber:   r.ClientPhoneNumber,
	}
	if t, ok := parseDate(r.StartDate, loc); ok {
		c.StartedAt = t
	}
	if r.EndDate != nil {
		if t, ok := parseDate(*r.EndDate, loc); ok {
			c.EndedAt = &t
		}
	}
	return c
}

// RawTranscript is the provider's segment transcription.
type RawTranscript struct {
	FirstOperatorID    flexInt `json:"firstOperatorId"`
	TranscriptionParts []struct {
		Phrases []struct {
			ContactID     flexInt `json:"contactId"`
			PhraseText    string  `json:"phraseText"`
			StartTimeInMs flexInt `json:"startTimeInMs"`
		} `json:"phrases"`
	} `json:"transcriptionParts"`
}

// ToTranscript attributes each phrase to the operator when its contact is the
// segment's first operator, and to the client otherwise.
func (r *RawTranscript) ToTranscript(callID int64) *calls.Transcript {
	tr := &calls.Transcript{CallID: callID}
	for _, part := range r.TranscriptionParts {
		for _, p := range part.Phrases {
			ch := calls.ChannelClient
			if p.ContactID == r.FirstOperatorID {
				ch = calls.ChannelOperator
			}
			tr.Phrases = append(tr.Phrases, calls.Phrase{
				Channel: ch,
				Text:    p.PhraseText,
				StartMs: int64(p.StartTimeInMs),
			})
		}
	}
	return tr
}
