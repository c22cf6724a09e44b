package calls

import "testing"

func TestTranscriptText(t *testing.T) {
	tr := &Transcript{
		CallID: 7,
		Phrases: []Phrase{
			{Channel: ChannelOperator, Text: "Добрый день"},
			{Channel: ChannelClient, Text: "Здравствуйте"},
		},
	}

	want := "operator: Добрый день\nclient: Здравствуйте\n"
	if got := tr.Text(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestTranscriptEmpty(t *testing.T) {
	tests := []struct {
		name string
		tr   *Transcript
		want bool
	}{
		{"nil", nil, true},
		{"no phrases", &Transcript{CallID: 1}, true},
		{"blank phrases", &Transcript{Phrases: []Phrase{{Channel: ChannelClient, Text: "  "}}}, true},
		{"spoken", &Transcript{Phrases: []Phrase{{Channel: ChannelClient, Text: "алло"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.Empty(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
