// Package rubric loads the scoring check-list and the custom prompt
// instructions, either from Google Sheets or from a YAML file.
package rubric

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// ParseChecklist reads check-list rows. The first row is a header. A row
// with a single cell starts a category; a longer row is a criterion
// (indicator, comment, max score, conditions). An empty row ends the list.
func ParseChecklist(rows [][]string) calls.Rubric {
	var r calls.Rubric
	if len(rows) == 0 {
		return r
	}

	category := ""
	for _, row := range rows[1:] {
		switch {
		case len(row) == 0:
			return r
		case len(row) == 1:
			category = strings.TrimSpace(row[0])
		default:
			r.Criteria = append(r.Criteria, calls.Criterion{
				Category:   category,
				Indicator:  cell(row, 0),
				Comment:    cell(row, 1),
				MaxScore:   cell(row, 2),
				Conditions: cell(row, 3),
			})
		}
	}
	return r
}

// ParseInstructions takes the first cell of every non-empty row.
func ParseInstructions(rows [][]string) []string {
	var out []string
	for _, row := range rows {
		if s := cell(row, 0); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// toStrings converts a Sheets value range into plain strings.
func toStrings(values [][]any) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out
}
