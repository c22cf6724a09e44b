package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// ErrValidation marks a model answer that cannot be used. It is retried by
// re-prompting.
var ErrValidation = errors.New("invalid model response")

// Score is an integer the model may write as a number or a numeric string.
type Score int

func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("score %s is not a number", clip(string(b), 40))
	}
	if math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("score %s is out of range", clip(string(b), 40))
	}
	*s = Score(math.Round(f))
	return nil
}

// Assessment is the validated model answer for one call.
type Assessment struct {
	IsSalesCall           bool             `json:"is_sales_call" jsonschema:"required,description=false when the call is not a sales conversation; all other fields may then be omitted"`
	TotalScore            Score            `json:"total_score" jsonschema:"required"`
	MaxPossibleScore      Score            `json:"max_possible_score" jsonschema:"required"`
	PerformancePercentage Score            `json:"performance_percentage" jsonschema:"required"`
	Evaluations           []Evaluation     `json:"evaluations" jsonschema:"required"`
	Recommendations       []Recommendation `json:"recommendations" jsonschema:"required"`
	Agreements            []Agreement      `json:"agreements" jsonschema:"required"`
	DeclineReasons        []DeclineReason  `json:"decline_reasons" jsonschema:"description=null when the client did not decline"`
}

type Evaluation struct {
	Category   string `json:"category" jsonschema:"required"`
	Criterion  string `json:"criterion" jsonschema:"required"`
	ScoreGiven *Score `json:"score_given" jsonschema:"required"`
	MaxScore   *Score `json:"max_score" jsonschema:"required"`
	Reason     string `json:"reason"`
}

type Recommendation struct {
	Category       string `json:"category"`
	Issue          string `json:"issue" jsonschema:"required"`
	Recommendation string `json:"recommendation" jsonschema:"required"`
	Priority       string `json:"priority" jsonschema:"enum=high,enum=medium,enum=low"`
}

type Agreement struct {
	Amount    *Score `json:"amount"`
	Agreement string `json:"agreement" jsonschema:"required"`
}

type DeclineReason struct {
	ReasonType        string  `json:"reason_type"`
	ReasonDescription string  `json:"reason_description" jsonschema:"required"`
	ProductCategory   *string `json:"product_category"`
}

// Keys that must be present and non-null in the answer for a sales call.
var salesKeys = []string{
	"total_score",
	"max_possible_score",
	"performance_percentage",
	"evaluations",
	"recommendations",
	"agreements",
}

// Validator parses raw model text into an Assessment and maps the model's
// category and criterion names back onto the rubric's spelling.
type Validator struct {
	matcher *criterionMatcher
	logger  *slog.Logger
}

func NewValidator(rubric calls.Rubric, logger *slog.Logger) *Validator {
	return &Validator{matcher: newCriterionMatcher(rubric), logger: logger}
}

// Validate returns an error wrapping ErrValidation when text is not a usable
// answer. Non-sales answers only need is_sales_call.
func (v *Validator) Validate(text string) (*Assessment, error) {
	body, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if isNull(keys["is_sales_call"]) {
		return nil, fmt.Errorf("%w: missing is_sales_call", ErrValidation)
	}
	var sales bool
	if err := json.Unmarshal(keys["is_sales_call"], &sales); err != nil {
		return nil, fmt.Errorf("%w: is_sales_call: %v", ErrValidation, err)
	}
	// The rest of a non-sales answer is never read.
	if !sales {
		return &Assessment{IsSalesCall: false}, nil
	}

	var a Assessment
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for _, k := range salesKeys {
		if isNull(keys[k]) {
			return nil, fmt.Errorf("%w: missing %s", ErrValidation, k)
		}
	}

	v.normalize(&a)
	return &a, nil
}

func (v *Validator) normalize(a *Assessment) {
	for i := range a.Evaluations {
		e := &a.Evaluations[i]
		cat, crit, score, ok := v.matcher.match(e.Category, e.Criterion)
		switch {
		case ok && (cat != e.Category || crit != e.Criterion):
			v.logger.Debug("criterion normalized",
				"from_category", e.Category, "from_criterion", e.Criterion,
				"to_category", cat, "to_criterion", crit, "similarity", score)
		case !ok:
			v.logger.Warn("criterion not in rubric",
				"category", e.Category, "criterion", e.Criterion, "similarity", score)
		}
		e.Category, e.Criterion = cat, crit
	}

	recs := a.Recommendations[:0]
	for _, r := range a.Recommendations {
		r.Issue = strings.TrimSpace(r.Issue)
		r.Recommendation = strings.TrimSpace(r.Recommendation)
		if r.Issue == "" || r.Recommendation == "" {
			continue
		}
		r.Priority = normalizePriority(r.Priority)
		if r.Category != "" {
			r.Category = v.matcher.matchCategory(r.Category)
		}
		recs = append(recs, r)
	}
	a.Recommendations = recs

	agreements := a.Agreements[:0]
	for _, ag := range a.Agreements {
		ag.Agreement = strings.TrimSpace(ag.Agreement)
		if ag.Agreement == "" {
			continue
		}
		agreements = append(agreements, ag)
	}
	a.Agreements = agreements

	var declines []DeclineReason
	for _, d := range a.DeclineReasons {
		d.ReasonDescription = strings.TrimSpace(d.ReasonDescription)
		if d.ReasonDescription == "" {
			continue
		}
		d.ReasonType = strings.TrimSpace(d.ReasonType)
		if d.ProductCategory != nil {
			pc := strings.TrimSpace(*d.ProductCategory)
			if pc == "" {
				d.ProductCategory = nil
			} else {
				d.ProductCategory = &pc
			}
		}
		declines = append(declines, d)
	}
	a.DeclineReasons = declines
}

func normalizePriority(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case "high", "medium", "low":
		return p
	}
	return "medium"
}

// extractJSON unwraps a fenced block if there is one and returns the text
// between the first '{' and the last '}'.
func extractJSON(text string) (string, error) {
	s := text
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty response", ErrValidation)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in %q", ErrValidation, clip(s, 80))
	}
	return s[start : end+1], nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
