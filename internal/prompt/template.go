// Package prompt renders a scoring rubric, custom instructions and a call
// transcript into the text sent to the model.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrConfiguration marks a broken prompt setup. It is never retried.
var ErrConfiguration = errors.New("configuration fault")

// Placeholder names recognized in a template. Each is written as {name};
// literal braces are escaped by doubling them.
const (
	Transcription      = "transcription"
	CriteriaList       = "criteria_list"
	CustomInstructions = "custom_instructions"
)

var placeholders = []string{Transcription, CriteriaList, CustomInstructions}

type segment struct {
	literal string
	field   string
}

// Template is a parsed prompt template. Every recognized placeholder is
// guaranteed to be present at least once.
type Template struct {
	segments []segment
}

// ParseTemplate parses text, failing with ErrConfiguration on an unknown or
// unclosed placeholder, a stray closing brace, or a missing placeholder.
func ParseTemplate(text string) (*Template, error) {
	t := &Template{}
	seen := make(map[string]bool, len(placeholders))

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrConfiguration, i)
			}
			name := text[i+1 : i+1+end]
			if !isPlaceholder(name) {
				return nil, fmt.Errorf("%w: unknown placeholder {%s} at offset %d", ErrConfiguration, clip(name, 40), i)
			}
			flush()
			t.segments = append(t.segments, segment{field: name})
			seen[name] = true
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrConfiguration, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	for _, name := range placeholders {
		if !seen[name] {
			return nil, fmt.Errorf("%w: template has no {%s} placeholder", ErrConfiguration, name)
		}
	}
	return t, nil
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read prompt file: %v", ErrConfiguration, err)
	}
	t, err := ParseTemplate(string(data))
	if err != nil {
		return nil, fmt.Errorf("prompt file %s: %w", path, err)
	}
	return t, nil
}

func (t *Template) render(values map[string]string) string {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.field != "" {
			sb.WriteString(values[s.field])
			continue
		}
		sb.WriteString(s.literal)
	}
	return sb.String()
}

func isPlaceholder(name string) bool {
	for _, p := range placeholders {
		if p == name {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
