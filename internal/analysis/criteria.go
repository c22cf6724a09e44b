package analysis

import (
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// similarityThreshold is the minimum average similarity of category and
// criterion for a fuzzy match to be accepted.
const similarityThreshold = 0.85

var (
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

type rubricKey struct {
	category, criterion string
}

// criterionMatcher maps model spellings of rubric entries back to the rubric.
type criterionMatcher struct {
	keys       []rubricKey // normalized, rubric order
	originals  map[rubricKey]rubricKey
	categories []rubricKey // normalized category in .category, original in .criterion
}

func newCriterionMatcher(rubric calls.Rubric) *criterionMatcher {
	m := &criterionMatcher{originals: make(map[rubricKey]rubricKey, len(rubric.Criteria))}
	seenCat := make(map[string]bool)
	for _, c := range rubric.Criteria {
		k := rubricKey{normalizeText(c.Category), normalizeText(c.Indicator)}
		if _, ok := m.originals[k]; !ok {
			m.keys = append(m.keys, k)
		}
		m.originals[k] = rubricKey{c.Category, c.Indicator}
		if !seenCat[k.category] {
			seenCat[k.category] = true
			m.categories = append(m.categories, rubricKey{k.category, c.Category})
		}
	}
	return m
}

// match returns the rubric spelling for a model-supplied pair. When nothing
// is close enough, ok is false and the model text is returned with its
// whitespace collapsed.
func (m *criterionMatcher) match(category, criterion string) (string, string, float64, bool) {
	k := rubricKey{normalizeText(category), normalizeText(criterion)}
	if orig, ok := m.originals[k]; ok {
		return orig.category, orig.criterion, 1, true
	}

	var best rubricKey
	bestScore := 0.0
	for _, cand := range m.keys {
		s := (similarity(k.category, cand.category) + similarity(k.criterion, cand.criterion)) / 2
		if s > bestScore {
			bestScore, best = s, cand
		}
	}
	if bestScore >= similarityThreshold {
		orig := m.originals[best]
		return orig.category, orig.criterion, bestScore, true
	}
	return cleanSpaces(category), cleanSpaces(criterion), bestScore, false
}

func (m *criterionMatcher) matchCategory(category string) string {
	norm := normalizeText(category)
	best, bestScore := "", 0.0
	for _, c := range m.categories {
		if c.category == norm {
			return c.criterion
		}
		if s := similarity(norm, c.category); s > bestScore {
			best, bestScore = c.criterion, s
		}
	}
	if bestScore >= similarityThreshold {
		return best
	}
	return cleanSpaces(category)
}

// normalizeText lower-cases s, strips punctuation and collapses whitespace.
func normalizeText(s string) string {
	s = punctRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.ToLower(s))
}

func cleanSpaces(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// similarity is the Ratcliff/Obershelp ratio 2*M/T over runes, where M is
// the number of matched runes and T the combined length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(len(ra)+len(rb))
}

func matchingRunes(a, b []rune) int {
	i, j, n := longestCommon(a, b)
	if n == 0 {
		return 0
	}
	return n + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+n:], b[j+n:])
}

// longestCommon finds the longest common substring, preferring the earliest
// position in a.
func longestCommon(a, b []rune) (int, int, int) {
	bi, bj, bn := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bn {
					bn = cur[j]
					bi, bj = i-cur[j], j-cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bi, bj, bn
}
