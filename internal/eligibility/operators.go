package eligibility

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// noiseWords are job titles and placeholder words the telephony provider
// mixes into operator display names.
var noiseWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"оператор", "компания", "неизвест", "неизвестн", "неизвестный", "неизвестная",
		"тп", "св", "торговый", "представитель", "ип", "ооо", "зао", "оао",
		"менеджер", "специалист", "консультант", "сотрудник", "работник",
		"младший", "старший", "ведущий", "главный", "заместитель", "помощник",
		"директор", "руководитель", "начальник", "заведующий", "координатор",
		"супервайзер", "супервизор", "куратор", "наставник", "тренер",
		"мл", "ст", "вед", "гл", "зам", "пом", "нач", "зав", "коорд",
	} {
		noiseWords[w] = struct{}{}
	}
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]`)

// NormalizeName reduces an operator display name to "surname name" in lower
// case so that provider and reference spellings compare equal.
func NormalizeName(name string) string {
	var kept []string
	for _, word := range strings.Fields(name) {
		w := nonWord.ReplaceAllString(strings.ToLower(word), "")
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		if _, noise := noiseWords[w]; noise {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 2 {
			break
		}
	}
	return strings.Join(kept, " ")
}

// Operator is a row of the operator reference table.
type Operator struct {
	ID       int64
	FullName string
}

// Operators is the known-operator reference set of a department, keyed by
// normalized name.
type Operators struct {
	byName map[string]Operator
}

// NewOperators indexes the reference rows. Rows whose name normalizes to the
// empty string are ignored; on collisions the later row wins.
func NewOperators(rows []Operator) *Operators {
	ops := &Operators{byName: make(map[string]Operator, len(rows))}
	for _, row := range rows {
		key := NormalizeName(row.FullName)
		if key == "" {
			continue
		}
		ops.byName[key] = row
	}
	return ops
}

// Len returns the number of distinct normalized operators.
func (o *Operators) Len() int {
	if o == nil {
		return 0
	}
	return len(o.byName)
}

// Lookup finds the reference operator for a provider display name.
func (o *Operators) Lookup(name string) (Operator, bool) {
	if o == nil {
		return Operator{}, false
	}
	key := NormalizeName(name)
	if key == "" {
		return Operator{}, false
	}
	op, ok := o.byName[key]
	return op, ok
}

// Resolve rewrites the operator fields of each record whose operator is known
// to the reference id and spelling. Unknown operators are left untouched and
// their names returned so the caller can report them.
func (o *Operators) Resolve(records []calls.Record) (unknown []string) {
	seen := make(map[string]bool)
	for i := range records {
		c := &records[i].Call
		op, ok := o.Lookup(c.OperatorName)
		if !ok {
			if !seen[c.OperatorName] {
				seen[c.OperatorName] = true
				unknown = append(unknown, c.OperatorName)
			}
			continue
		}
		c.OperatorID = op.ID
		c.OperatorName = op.FullName
	}
	return unknown
}
