package table

import (
	"strings"

	"finai/internal/core"
)

// FilterRows returns the rows where the row id or any cell's string form
// contains query, ignoring case. A blank query returns rows as given.
func FilterRows(rows []core.Row, query string) []core.Row {
	if strings.TrimSpace(query) == "" {
		return rows
	}
	needle := strings.ToLower(query)
	out := make([]core.Row, 0, len(rows))
	for _, r := range rows {
		if rowMatches(r, needle) {
			out = append(out, r)
		}
	}
	return out
}

func rowMatches(r core.Row, needle string) bool {
	if strings.Contains(strings.ToLower(r.ID), needle) {
		return true
	}
	for _, v := range r.Cells {
		if strings.Contains(strings.ToLower(v.String()), needle) {
			return true
		}
	}
	return false
}
