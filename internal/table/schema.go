package table

import (
	"fmt"
	"strings"

	"finai/internal/core"
)

// ColumnUpdate carries the fields to change on a column. Nil fields are left
// alone.
type ColumnUpdate struct {
	Label       *string           `json:"label,omitempty"`
	Type        *core.ColumnType  `json:"type,omitempty"`
	Aggregation *core.Aggregation `json:"aggregation,omitempty"`
}

// AddColumn appends a text column with a fresh key and back-fills every row
// with its default value.
func (e *Engine) AddColumn(t core.Table) core.Table {
	out, _ := e.AddColumnSpec(t, ColumnSpec{})
	return out
}

// AddColumnSpec appends a column described by s and back-fills every row.
func (e *Engine) AddColumnSpec(t core.Table, s ColumnSpec) (core.Table, error) {
	col, err := e.columnFromSpec(t, s)
	if err != nil {
		return t, err
	}
	out := t.Clone()
	out.Columns = append(out.Columns, col)
	def := core.DefaultValue(col.Type)
	for _, r := range out.Rows {
		r.Cells[col.Key] = def
	}
	return out, nil
}

// RemoveColumn drops the column and strips its cell from every row. Unknown
// keys leave the table unchanged.
func (e *Engine) RemoveColumn(t core.Table, key string) core.Table {
	idx := t.ColumnIndex(key)
	if idx < 0 {
		return t
	}
	out := t.Clone()
	out.Columns = append(out.Columns[:idx], out.Columns[idx+1:]...)
	for _, r := range out.Rows {
		delete(r.Cells, key)
	}
	return out
}

// UpdateColumn merges u into the column. A type change keeps the stored cell
// values as they are; they are coerced when displayed or aggregated.
func (e *Engine) UpdateColumn(t core.Table, key string, u ColumnUpdate) (core.Table, error) {
	idx := t.ColumnIndex(key)
	if idx < 0 {
		return t, fmt.Errorf("%w: %q", core.ErrColumnNotFound, key)
	}
	col := t.Columns[idx]
	if u.Label != nil {
		col.Label = strings.TrimSpace(*u.Label)
		if col.Label == "" {
			col.Label = DefaultColumnLabel
		}
	}
	if u.Type != nil {
		if !u.Type.Valid() {
			return t, fmt.Errorf("%w: %q", core.ErrInvalidColumnType, *u.Type)
		}
		col.Type = *u.Type
	}
	if u.Aggregation != nil {
		agg, err := core.ParseAggregation(string(*u.Aggregation))
		if err != nil {
			return t, err
		}
		col.Aggregation = agg
	}
	out := t.Clone()
	out.Columns[idx] = col
	return out, nil
}

// RenameColumn changes the label only; the key, and with it every row's
// link to the column, is kept.
func (e *Engine) RenameColumn(t core.Table, key, label string) (core.Table, error) {
	return e.UpdateColumn(t, key, ColumnUpdate{Label: &label})
}
