package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseColumnType(t *testing.T) {
	cases := []struct {
		in   string
		want ColumnType
		ok   bool
	}{
		{"text", TypeText, true},
		{"string", TypeText, true},
		{" Currency ", TypeCurrency, true},
		{"boolean", TypeCheckbox, true},
		{"date", TypeDate, true},
		{"number", TypeNumber, true},
		{"money", "", false},
		{"", "", false},
	}
	for i, tc := range cases {
		got, err := ParseColumnType(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("case %d: got %q, %v want %q", i, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidColumnType) {
			t.Fatalf("case %d: expected ErrInvalidColumnType, got %v", i, err)
		}
	}
}

func TestParseAggregation(t *testing.T) {
	if a, err := ParseAggregation(""); err != nil || a != AggNone {
		t.Fatalf("empty aggregation should be none, got %q %v", a, err)
	}
	if _, err := ParseAggregation("median"); !errors.Is(err, ErrInvalidAggregation) {
		t.Fatalf("expected ErrInvalidAggregation, got %v", err)
	}
}

func sampleTable() Table {
	return Table{
		ID:   "t1",
		Name: "Budget",
		Columns: []Column{
			{Key: "item", Label: "Item", Type: TypeText, Aggregation: AggNone},
			{Key: "amt", Label: "Amount", Type: TypeCurrency, Aggregation: AggSum},
		},
		Rows: []Row{
			{ID: "r1", Cells: Cells{"item": Text("Rent"), "amt": Number(1200)}},
		},
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTableValidate(t *testing.T) {
	if err := sampleTable().Validate(); err != nil {
		t.Fatalf("expected valid table, got %v", err)
	}

	missingCell := sampleTable()
	delete(missingCell.Rows[0].Cells, "amt")

	orphanCell := sampleTable()
	orphanCell.Rows[0].Cells["ghost"] = Text("x")

	dupKey := sampleTable()
	dupKey.Columns = append(dupKey.Columns, Column{Key: "amt", Type: TypeNumber})

	dupRow := sampleTable()
	dupRow.Rows = append(dupRow.Rows, dupRow.Rows[0].Clone())

	noName := sampleTable()
	noName.Name = " "

	cases := []struct {
		name string
		tbl  Table
		want error
	}{
		{"missing cell", missingCell, ErrRowShape},
		{"orphan cell", orphanCell, ErrRowShape},
		{"duplicate key", dupKey, ErrDuplicateColumnKey},
		{"duplicate row", dupRow, ErrDuplicateRowID},
		{"empty name", noName, ErrEmptyName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tbl.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTableCloneIsIndependent(t *testing.T) {
	src := sampleTable()
	cp := src.Clone()
	cp.Columns[0].Label = "Changed"
	cp.Rows[0].Cells["amt"] = Number(1)

	if src.Columns[0].Label != "Item" {
		t.Fatalf("clone shares columns")
	}
	if src.Rows[0].Cells["amt"].Float() != 1200 {
		t.Fatalf("clone shares cells")
	}
}

func TestTableJSONRoundTrip(t *testing.T) {
	src := sampleTable()
	src.Columns = append(src.Columns,
		Column{Key: "when", Label: "Date", Type: TypeDate},
		Column{Key: "paid", Label: "Paid", Type: TypeCheckbox},
	)
	src.Rows[0].Cells["when"] = DateString("2024-03-05")
	src.Rows[0].Cells["paid"] = Bool(true)

	b, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Table
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cells := got.Rows[0].Cells
	if cells["amt"].Kind() != KindNumber || cells["amt"].Float() != 1200 {
		t.Fatalf("amount lost its number kind: %#v", cells["amt"])
	}
	if cells["when"].Kind() != KindDate {
		t.Fatalf("date column cell should decode as date, got %v", cells["when"].Kind())
	}
	if !cells["paid"].Truthy() {
		t.Fatalf("checkbox lost its value")
	}
	if !got.CreatedAt.Equal(src.CreatedAt) {
		t.Fatalf("createdAt changed: %v", got.CreatedAt)
	}
}

func TestLegacyStringColumnType(t *testing.T) {
	var c Column
	if err := json.Unmarshal([]byte(`{"key":"k","label":"K","type":"string"}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Type != TypeText {
		t.Fatalf("expected text, got %q", c.Type)
	}
}

func TestValidThemeColor(t *testing.T) {
	for _, c := range ThemeColors {
		if !ValidThemeColor(c) {
			t.Fatalf("palette color %s rejected", c)
		}
	}
	for _, c := range []string{"", "#", "10b981", "#12345", "#zzzzzz"} {
		if ValidThemeColor(c) {
			t.Fatalf("%q should be rejected", c)
		}
	}
}
