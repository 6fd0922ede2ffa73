package table

import (
	"fmt"
	"strings"

	"finai/internal/core"
)

// AddRow appends a row with a fresh id and one default cell per column.
func (e *Engine) AddRow(t core.Table) core.Table {
	out := t.Clone()
	out.Rows = append(out.Rows, core.Row{
		ID:    e.ids.NewID(),
		Cells: shapeCells(out.Columns, nil),
	})
	return out
}

// RemoveRow drops the row with the given id. Unknown ids leave the table
// unchanged.
func (e *Engine) RemoveRow(t core.Table, rowID string) core.Table {
	idx := t.RowIndex(rowID)
	if idx < 0 {
		return t
	}
	out := t.Clone()
	out.Rows = append(out.Rows[:idx], out.Rows[idx+1:]...)
	return out
}

// UpdateCell replaces exactly one cell. The value is stored as given.
func (e *Engine) UpdateCell(t core.Table, rowID, key string, v core.Value) (core.Table, error) {
	ri := t.RowIndex(rowID)
	if ri < 0 {
		return t, fmt.Errorf("%w: %q", core.ErrRowNotFound, rowID)
	}
	if t.ColumnIndex(key) < 0 {
		return t, fmt.Errorf("%w: %q", core.ErrColumnNotFound, key)
	}
	out := t.Clone()
	out.Rows[ri].Cells[key] = v
	return out, nil
}

// SetDetails updates the table metadata. Nil arguments keep the current
// value.
func (e *Engine) SetDetails(t core.Table, name, description, themeColor *string) (core.Table, error) {
	out := t.Clone()
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return t, core.ErrEmptyName
		}
		out.Name = n
	}
	if description != nil {
		out.Description = *description
	}
	if themeColor != nil {
		if !core.ValidThemeColor(*themeColor) {
			return t, fmt.Errorf("%w: %q", core.ErrInvalidThemeColor, *themeColor)
		}
		out.ThemeColor = *themeColor
	}
	return out, nil
}
