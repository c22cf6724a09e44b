package prompt

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// Builder renders per-call prompts for one batch. The rubric listing and the
// instructions are rendered once; only the transcript varies per call.
type Builder struct {
	tmpl         *Template
	criteria     string
	instructions string
}

// NewBuilder validates the batch-wide inputs. Custom instructions must not
// contain placeholder tokens: substituted text is never expanded again, so a
// token there always means the prompt was assembled wrongly.
func NewBuilder(tmpl *Template, rubric calls.Rubric, instructions []string) (*Builder, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: no prompt template", ErrConfiguration)
	}
	for i, instr := range instructions {
		for _, name := range placeholders {
			if strings.Contains(instr, "{"+name+"}") {
				return nil, fmt.Errorf("%w: custom instruction %d contains placeholder {%s}", ErrConfiguration, i+1, name)
			}
		}
	}
	return &Builder{
		tmpl:         tmpl,
		criteria:     CriteriaListing(rubric),
		instructions: strings.Join(instructions, "\n\n"),
	}, nil
}

// Build renders the prompt for one transcript. Identical inputs always yield
// byte-identical output.
func (b *Builder) Build(tr *calls.Transcript) string {
	return b.tmpl.render(map[string]string{
		Transcription:      tr.Text(),
		CriteriaList:       b.criteria,
		CustomInstructions: b.instructions,
	})
}

// Build is a one-shot helper around NewBuilder.
func Build(tmpl *Template, rubric calls.Rubric, instructions []string, tr *calls.Transcript) (string, error) {
	b, err := NewBuilder(tmpl, rubric, instructions)
	if err != nil {
		return "", err
	}
	return b.Build(tr), nil
}

// CriteriaListing serializes the rubric in its own order.
func CriteriaListing(rubric calls.Rubric) string {
	var sb strings.Builder
	for _, c := range rubric.Criteria {
		if c.ID != "" {
			fmt.Fprintf(&sb, "ID: %s\n", c.ID)
		}
		fmt.Fprintf(&sb, "CATEGORY: %s\n", c.Category)
		fmt.Fprintf(&sb, "CRITERION: %s\n", c.Indicator)
		fmt.Fprintf(&sb, "COMMENT: %s\n", c.Comment)
		fmt.Fprintf(&sb, "MAX SCORE: %s\n", c.MaxScore)
		fmt.Fprintf(&sb, "CONDITIONS: %s\n\n", c.Conditions)
	}
	return sb.String()
}
