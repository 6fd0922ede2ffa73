package table

import "finai/internal/core"

// View is a table as presented for a filter query: the matching rows and the
// totals computed over them.
type View struct {
	Table     core.Table `json:"table"`
	Query     string     `json:"query,omitempty"`
	Rows      []core.Row `json:"rows"`
	Totals    []Total    `json:"totals"`
	Matched   int        `json:"matched"`
	RowCount  int        `json:"rowCount"`
	Formatted [][]string `json:"formatted"`
}

// BuildView filters t by query and aggregates over the matching rows.
func BuildView(t core.Table, query string) View {
	rows := FilterRows(t.Rows, query)
	formatted := make([][]string, len(rows))
	for i, r := range rows {
		line := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			line[j] = core.ToDisplay(r.Cells[c.Key], c.Type)
		}
		formatted[i] = line
	}
	return View{
		Table:     t,
		Query:     query,
		Rows:      rows,
		Totals:    Aggregate(t.Columns, rows),
		Matched:   len(rows),
		RowCount:  len(t.Rows),
		Formatted: formatted,
	}
}
