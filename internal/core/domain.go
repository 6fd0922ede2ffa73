package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypeText     ColumnType = "text"
	TypeNumber   ColumnType = "number"
	TypeDate     ColumnType = "date"
	TypeCurrency ColumnType = "currency"
	TypeCheckbox ColumnType = "checkbox"
)

const (
	AggNone  Aggregation = "none"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggCount Aggregation = "count"
)

// DefaultThemeColor is used for tables created without an explicit color.
const DefaultThemeColor = "#10b981"

// ThemeColors lists the palette offered when creating a table.
var ThemeColors = []string{
	"#10b981", "#3b82f6", "#6366f1", "#8b5cf6",
	"#ec4899", "#f59e0b", "#ef4444", "#475569",
}

type (
	ColumnType  string
	Aggregation string

	Column struct {
		Key         string      `json:"key"`
		Label       string      `json:"label"`
		Type        ColumnType  `json:"type"`
		Aggregation Aggregation `json:"aggregation,omitempty"`
	}

	// Cells maps a column key to the value stored for that column.
	Cells map[string]Value

	Row struct {
		ID    string `json:"id"`
		Cells Cells  `json:"cells"`
	}

	Table struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Description string    `json:"description"`
		Columns     []Column  `json:"columns"`
		Rows        []Row     `json:"rows"`
		CreatedAt   time.Time `json:"createdAt"`
		ThemeColor  string    `json:"themeColor,omitempty"`
		// Revision is assigned by the store on every persisted snapshot.
		Revision int64 `json:"revision,omitempty"`
	}
)

var (
	ErrNotProvisioned       = errors.New("storage not provisioned")
	ErrNotFound             = errors.New("table not found")
	ErrColumnNotFound       = errors.New("column not found")
	ErrRowNotFound          = errors.New("row not found")
	ErrReadOnly             = errors.New("table is in read-only mode")
	ErrRequestInFlight      = errors.New("an assistant request is already in progress")
	ErrAssistantUnavailable = errors.New("assistant not configured")
	ErrMalformedDraft       = errors.New("malformed table draft")
	ErrEmptyPrompt          = errors.New("empty prompt")
	ErrEmptyName            = errors.New("empty table name")
	ErrInvalidColumnType    = errors.New("invalid column type")
	ErrInvalidAggregation   = errors.New("invalid aggregation")
	ErrDuplicateColumnKey   = errors.New("duplicate column key")
	ErrDuplicateRowID       = errors.New("duplicate row id")
	ErrRowShape             = errors.New("row cells do not match columns")
	ErrInvalidMultiplier    = errors.New("invalid projection multiplier")
	ErrInvalidThemeColor    = errors.New("invalid theme color")
)

// ParseColumnType accepts the five column types plus the aliases produced by
// older records and model output ("string", "boolean", "bool").
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return TypeText, nil
	case "number":
		return TypeNumber, nil
	case "date":
		return TypeDate, nil
	case "currency":
		return TypeCurrency, nil
	case "checkbox", "boolean", "bool":
		return TypeCheckbox, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidColumnType, s)
}

func (t ColumnType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeCurrency, TypeCheckbox:
		return true
	}
	return false
}

// Numeric reports whether values of this type take part in money totals.
func (t ColumnType) Numeric() bool {
	return t == TypeNumber || t == TypeCurrency
}

func (t *ColumnType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseColumnType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AggNone, nil
	case "sum":
		return AggSum, nil
	case "avg":
		return AggAvg, nil
	case "count":
		return AggCount, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAggregation, s)
}

func (a *Aggregation) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAggregation(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Active reports whether the column should produce a total.
func (a Aggregation) Active() bool {
	return a != "" && a != AggNone
}

func (c Column) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return errors.New("empty column key")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("column %q: %w", c.Key, ErrInvalidColumnType)
	}
	if _, err := ParseAggregation(string(c.Aggregation)); err != nil {
		return fmt.Errorf("column %q: %w", c.Key, err)
	}
	return nil
}

// Clone returns a deep copy of the cell map.
func (c Cells) Clone() Cells {
	out := make(Cells, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (r Row) Clone() Row {
	return Row{ID: r.ID, Cells: r.Cells.Clone()}
}

// Clone returns a table that shares no slices or maps with t.
func (t Table) Clone() Table {
	out := t
	out.Columns = append([]Column(nil), t.Columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

func (t Table) Column(key string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) ColumnIndex(key string) int {
	for i, c := range t.Columns {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func (t Table) RowIndex(id string) int {
	for i, r := range t.Rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (t Table) ColumnKeys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

// Validate checks the structural invariants: unique column keys, known types,
// unique row ids and every row carrying exactly the column keys.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	keys := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := keys[c.Key]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateColumnKey, c.Key)
		}
		keys[c.Key] = struct{}{}
	}
	ids := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateRowID, r.ID)
		}
		ids[r.ID] = struct{}{}
		if len(r.Cells) != len(keys) {
			return fmt.Errorf("row %q: %w", r.ID, ErrRowShape)
		}
		for k := range r.Cells {
			if _, ok := keys[k]; !ok {
				return fmt.Errorf("row %q has cell %q: %w", r.ID, k, ErrRowShape)
			}
		}
	}
	return nil
}

// UnmarshalJSON decodes a table and retags string cells of date columns so
// that the in-memory kind follows the declared column type.
func (t *Table) UnmarshalJSON(b []byte) error {
	type plain Table
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Table(p)
	for _, c := range t.Columns {
		if c.Type != TypeDate {
			continue
		}
		for _, r := range t.Rows {
			if v, ok := r.Cells[c.Key]; ok && v.Kind() == KindText {
				r.Cells[c.Key] = DateString(v.String())
			}
		}
	}
	return nil
}

// ValidThemeColor accepts #rgb and #rrggbb hex colors.
func ValidThemeColor(s string) bool {
	if len(s) != 4 && len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
