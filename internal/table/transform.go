package table

import (
	"fmt"
	"math"

	"finai/internal/core"
)

// Mode selects how Duplicate derives the new table.
type Mode struct {
	projection bool
	multiplier float64
}

// Copy duplicates cell values verbatim.
func Copy() Mode { return Mode{} }

// Projection scales numeric cells of number and currency columns by m.
func Projection(m float64) Mode { return Mode{projection: true, multiplier: m} }

func (m Mode) IsProjection() bool { return m.projection }
func (m Mode) Multiplier() float64 { return m.multiplier }

// Duplicate returns an independent table with a new id, creation time and
// row ids. Column keys are kept so the schema is structurally identical.
func (e *Engine) Duplicate(t core.Table, m Mode) (core.Table, error) {
	if m.projection && (math.IsNaN(m.multiplier) || math.IsInf(m.multiplier, 0)) {
		return core.Table{}, fmt.Errorf("%w: %v", core.ErrInvalidMultiplier, m.multiplier)
	}
	out := t.Clone()
	out.ID = e.ids.NewID()
	out.CreatedAt = e.now().UTC()
	out.Revision = 0
	if m.projection {
		out.Name = t.Name + ProjectionSuffix
	} else {
		out.Name = t.Name + CopySuffix
	}
	for i := range out.Rows {
		out.Rows[i].ID = e.ids.NewID()
		if m.projection {
			scaleRow(out.Columns, out.Rows[i].Cells, m.multiplier)
		}
	}
	return out, nil
}

func scaleRow(cols []core.Column, cells core.Cells, m float64) {
	for _, c := range cols {
		if !c.Type.Numeric() {
			continue
		}
		v, ok := cells[c.Key]
		if !ok || !v.IsNumber() {
			continue
		}
		cells[c.Key] = core.Number(core.Round2(v.Float() * m))
	}
}
