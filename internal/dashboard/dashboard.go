// Package dashboard rolls up every table of an owner into a grand total, a
// per-category breakdown and a list of the most recent entries.
//
// Tables come from free-form and model-generated schemas, so the category,
// label and date of a row are found by trying conventional column keys in
// order and falling back to defaults when none is present.
package dashboard

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finai/internal/core"
)

const (
	DefaultCategory = "Other"
	DefaultLabel    = "Expense"
	RecentLimit     = 6
)

var (
	CategoryKeys = []string{"category", "categoria"}
	LabelKeys    = []string{"item", "name", "description", "descricao"}
	DateKeys     = []string{"date", "data"}
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006",
}

type (
	CategoryTotal struct {
		Category string  `json:"category"`
		Value    float64 `json:"value"`
		Display  string  `json:"display"`
	}

	RecentItem struct {
		TableID   string    `json:"tableId"`
		TableName string    `json:"tableName"`
		RowID     string    `json:"rowId"`
		Label     string    `json:"label"`
		Date      time.Time `json:"date"`
		Amount    float64   `json:"amount"`
		Display   string    `json:"display"`
	}

	Summary struct {
		Total        float64         `json:"total"`
		TotalDisplay string          `json:"totalDisplay"`
		TableCount   int             `json:"tableCount"`
		RowCount     int             `json:"rowCount"`
		Categories   []CategoryTotal `json:"categories"`
		Recent       []RecentItem    `json:"recent"`
	}
)

// Compute builds the summary for tables. It never fails: rows missing the
// conventional fields fall into the default buckets.
func Compute(tables []core.Table) Summary {
	grand := decimal.Zero
	byCategory := map[string]decimal.Decimal{}
	var order []string
	var recent []RecentItem
	rowCount := 0

	for _, t := range tables {
		for _, r := range t.Rows {
			rowCount++
			total := RowTotal(t.Columns, r)
			grand = grand.Add(total)

			cat := firstPresent(t.Columns, r.Cells, CategoryKeys, DefaultCategory)
			if _, seen := byCategory[cat]; !seen {
				order = append(order, cat)
			}
			byCategory[cat] = byCategory[cat].Add(total)

			amount, _ := total.Float64()
			recent = append(recent, RecentItem{
				TableID:   t.ID,
				TableName: t.Name,
				RowID:     r.ID,
				Label:     firstPresent(t.Columns, r.Cells, LabelKeys, DefaultLabel),
				Date:      rowDate(t.Columns, r.Cells, t.CreatedAt),
				Amount:    amount,
				Display:   core.FormatCurrency(amount),
			})
		}
	}

	cats := make([]CategoryTotal, 0, len(order))
	for _, name := range order {
		v, _ := byCategory[name].Float64()
		cats = append(cats, CategoryTotal{Category: name, Value: v, Display: core.FormatCurrency(v)})
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Value > cats[j].Value })

	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	if recent == nil {
		recent = []RecentItem{}
	}

	total, _ := grand.Float64()
	return Summary{
		Total:        total,
		TotalDisplay: core.FormatCurrency(total),
		TableCount:   len(tables),
		RowCount:     rowCount,
		Categories:   cats,
		Recent:       recent,
	}
}

// RowTotal sums the row's number and currency cells.
func RowTotal(cols []core.Column, r core.Row) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range cols {
		if !c.Type.Numeric() {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(r.Cells[c.Key].Float()))
	}
	return sum
}

// lookup finds a cell by key, falling back to a case-insensitive match
// against the columns in schema order, then against the remaining cell keys
// in sorted order.
func lookup(cols []core.Column, cells core.Cells, key string) (core.Value, bool) {
	if v, ok := cells[key]; ok {
		return v, true
	}
	for _, c := range cols {
		if !strings.EqualFold(c.Key, key) {
			continue
		}
		if v, ok := cells[c.Key]; ok {
			return v, true
		}
	}
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return cells[k], true
		}
	}
	return core.Value{}, false
}

func firstPresent(cols []core.Column, cells core.Cells, keys []string, def string) string {
	for _, k := range keys {
		v, ok := lookup(cols, cells, k)
		if !ok || v.Empty() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return def
}

func rowDate(cols []core.Column, cells core.Cells, fallback time.Time) time.Time {
	for _, k := range DateKeys {
		v, ok := lookup(cols, cells, k)
		if !ok {
			continue
		}
		s := strings.TrimSpace(v.String())
		if s == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, s); err == nil {
				return d
			}
		}
	}
	return fallback
}
