package table

import (
	"github.com/shopspring/decimal"

	"finai/internal/core"
)

// Total is the summary of one aggregated column over a row subset.
type Total struct {
	ColumnKey   string           `json:"columnKey"`
	Label       string           `json:"label"`
	Type        core.ColumnType  `json:"type"`
	Aggregation core.Aggregation `json:"aggregation"`
	Value       float64          `json:"value"`
	Display     string           `json:"display"`
}

// Aggregate computes one Total per column whose aggregation is not none, in
// column order.
func Aggregate(cols []core.Column, rows []core.Row) []Total {
	totals := make([]Total, 0, len(cols))
	for _, c := range cols {
		if !c.Aggregation.Active() {
			continue
		}
		v := aggregateColumn(c, rows)
		totals = append(totals, Total{
			ColumnKey:   c.Key,
			Label:       c.Label,
			Type:        c.Type,
			Aggregation: c.Aggregation,
			Value:       v,
			Display:     formatTotal(c, v),
		})
	}
	return totals
}

func aggregateColumn(c core.Column, rows []core.Row) float64 {
	if c.Aggregation == core.AggCount {
		return float64(len(rows))
	}
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromFloat(r.Cells[c.Key].Float()))
	}
	if c.Aggregation == core.AggAvg {
		if len(rows) == 0 {
			return 0
		}
		sum = sum.Div(decimal.NewFromInt(int64(len(rows))))
	}
	f, _ := sum.Float64()
	return f
}

// formatTotal renders sums and averages of currency columns as money. Counts
// are plain numbers for every column type.
func formatTotal(c core.Column, v float64) string {
	if c.Type == core.TypeCurrency && c.Aggregation != core.AggCount {
		return core.FormatCurrency(v)
	}
	return core.FormatNumber(v)
}
