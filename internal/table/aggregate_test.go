package table

import (
	"math"
	"testing"

	"finai/internal/core"
)

func currencyRows(vals ...float64) []core.Row {
	rows := make([]core.Row, len(vals))
	for i, v := range vals {
		rows[i] = core.Row{ID: string(rune('a' + i)), Cells: core.Cells{"amt": core.Number(v)}}
	}
	return rows
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name        string
		col         core.Column
		rows        []core.Row
		wantValue   float64
		wantDisplay string
	}{
		{
			name:        "currency sum",
			col:         core.Column{Key: "amt", Type: core.TypeCurrency, Aggregation: core.AggSum},
			rows:        currencyRows(10.00, 20.005, 5),
			wantValue:   35.005,
			wantDisplay: "R$ 35,01",
		},
		{
			name:        "avg over no rows",
			col:         core.Column{Key: "amt", Type: core.TypeNumber, Aggregation: core.AggAvg},
			rows:        nil,
			wantValue:   0,
			wantDisplay: "0",
		},
		{
			name:        "number avg",
			col:         core.Column{Key: "amt", Type: core.TypeNumber, Aggregation: core.AggAvg},
			rows:        currencyRows(10, 15),
			wantValue:   12.5,
			wantDisplay: "12.5",
		},
		{
			name:        "number sum drops zeros",
			col:         core.Column{Key: "amt", Type: core.TypeNumber, Aggregation: core.AggSum},
			rows:        currencyRows(4, 8),
			wantValue:   12,
			wantDisplay: "12",
		},
		{
			name:        "count ignores values",
			col:         core.Column{Key: "amt", Type: core.TypeCurrency, Aggregation: core.AggCount},
			rows:        currencyRows(0, 0, 0),
			wantValue:   3,
			wantDisplay: "3",
		},
		{
			name: "checkbox sum counts checked",
			col:  core.Column{Key: "ok", Type: core.TypeCheckbox, Aggregation: core.AggSum},
			rows: []core.Row{
				{ID: "1", Cells: core.Cells{"ok": core.Bool(true)}},
				{ID: "2", Cells: core.Cells{"ok": core.Bool(false)}},
				{ID: "3", Cells: core.Cells{"ok": core.Bool(true)}},
			},
			wantValue:   2,
			wantDisplay: "2",
		},
		{
			name: "non numeric text coerces to zero",
			col:  core.Column{Key: "amt", Type: core.TypeCurrency, Aggregation: core.AggSum},
			rows: []core.Row{
				{ID: "1", Cells: core.Cells{"amt": core.Text("abc")}},
				{ID: "2", Cells: core.Cells{"amt": core.Text("7")}},
			},
			wantValue:   7,
			wantDisplay: "R$ 7,00",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals := Aggregate([]core.Column{tc.col}, tc.rows)
			if len(totals) != 1 {
				t.Fatalf("expected one total, got %d", len(totals))
			}
			if math.Abs(totals[0].Value-tc.wantValue) > 1e-9 {
				t.Fatalf("value %v want %v", totals[0].Value, tc.wantValue)
			}
			if totals[0].Display != tc.wantDisplay {
				t.Fatalf("display %q want %q", totals[0].Display, tc.wantDisplay)
			}
		})
	}
}

func TestAggregateSkipsNone(t *testing.T) {
	cols := []core.Column{
		{Key: "a", Type: core.TypeNumber, Aggregation: core.AggNone},
		{Key: "b", Type: core.TypeNumber},
		{Key: "c", Type: core.TypeNumber, Aggregation: core.AggCount},
	}
	totals := Aggregate(cols, nil)
	if len(totals) != 1 || totals[0].ColumnKey != "c" {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestBuildViewAggregatesFilteredRows(t *testing.T) {
	tbl := core.Table{
		Name: "T",
		Columns: []core.Column{
			{Key: "item", Type: core.TypeText},
			{Key: "amt", Type: core.TypeCurrency, Aggregation: core.AggSum},
		},
		Rows: []core.Row{
			{ID: "1", Cells: core.Cells{"item": core.Text("Rent"), "amt": core.Number(1000)}},
			{ID: "2", Cells: core.Cells{"item": core.Text("Groceries"), "amt": core.Number(300)}},
			{ID: "3", Cells: core.Cells{"item": core.Text("rent deposit"), "amt": core.Number(50)}},
		},
	}
	v := BuildView(tbl, "RENT")
	if v.Matched != 2 || v.RowCount != 3 {
		t.Fatalf("matched %d of %d", v.Matched, v.RowCount)
	}
	if v.Totals[0].Display != "R$ 1.050,00" {
		t.Fatalf("total %q", v.Totals[0].Display)
	}
	if v.Formatted[1][1] != "R$ 50,00" || v.Formatted[0][0] != "Rent" {
		t.Fatalf("formatted %+v", v.Formatted)
	}
}
