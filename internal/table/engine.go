// Package table implements the typed table engine: schema and row edits that
// keep every row shaped like the column list, free-text filtering, per-column
// aggregation and duplication.
//
// Every operation takes a table by value and returns a new one; the input is
// never modified.
package table

import (
	"fmt"
	"strings"
	"time"

	"finai/internal/core"
	"finai/internal/ident"
)

const (
	DefaultColumnLabel = "New Column"
	CopySuffix         = " (Copy)"
	ProjectionSuffix   = " (Projection)"
)

// maxKeyAttempts bounds the retries when a generated column key collides.
const maxKeyAttempts = 16

type Engine struct {
	ids  core.IDGenerator
	keys core.IDGenerator
	now  func() time.Time
}

type Option func(*Engine)

// WithIDs sets the generator for table and row ids.
func WithIDs(g core.IDGenerator) Option { return func(e *Engine) { e.ids = g } }

// WithColumnKeys sets the generator for new column keys.
func WithColumnKeys(g core.IDGenerator) Option { return func(e *Engine) { e.keys = g } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(opts ...Option) *Engine {
	e := &Engine{
		ids:  ident.UUID{},
		keys: ident.ColumnKeys{},
		now:  time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ColumnSpec describes a column requested at table creation. An empty Key is
// generated.
type ColumnSpec struct {
	Key         string           `json:"key,omitempty"`
	Label       string           `json:"label"`
	Type        core.ColumnType  `json:"type"`
	Aggregation core.Aggregation `json:"aggregation,omitempty"`
}

// NewTable creates an empty table with fresh identity.
func (e *Engine) NewTable(name, description, themeColor string, specs []ColumnSpec) (core.Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Table{}, core.ErrEmptyName
	}
	if themeColor == "" {
		themeColor = core.DefaultThemeColor
	}
	if !core.ValidThemeColor(themeColor) {
		return core.Table{}, fmt.Errorf("%w: %q", core.ErrInvalidThemeColor, themeColor)
	}
	t := core.Table{
		ID:          e.ids.NewID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Columns:     []core.Column{},
		Rows:        []core.Row{},
		CreatedAt:   e.now().UTC(),
		ThemeColor:  themeColor,
	}
	for _, s := range specs {
		col, err := e.columnFromSpec(t, s)
		if err != nil {
			return core.Table{}, err
		}
		t.Columns = append(t.Columns, col)
	}
	return t, nil
}

func (e *Engine) columnFromSpec(t core.Table, s ColumnSpec) (core.Column, error) {
	typ := s.Type
	if typ == "" {
		typ = core.TypeText
	}
	if !typ.Valid() {
		return core.Column{}, fmt.Errorf("%w: %q", core.ErrInvalidColumnType, s.Type)
	}
	agg, err := core.ParseAggregation(string(s.Aggregation))
	if err != nil {
		return core.Column{}, err
	}
	key := strings.TrimSpace(s.Key)
	if key == "" {
		key = e.newColumnKey(t)
	} else if t.ColumnIndex(key) >= 0 {
		return core.Column{}, fmt.Errorf("%w: %q", core.ErrDuplicateColumnKey, key)
	}
	label := strings.TrimSpace(s.Label)
	if label == "" {
		label = DefaultColumnLabel
	}
	return core.Column{Key: key, Label: label, Type: typ, Aggregation: agg}, nil
}

func (e *Engine) newColumnKey(t core.Table) string {
	key := e.keys.NewID()
	for i := 0; t.ColumnIndex(key) >= 0; i++ {
		if i >= maxKeyAttempts {
			return fmt.Sprintf("%s_%d", key, len(t.Columns))
		}
		key = e.keys.NewID()
	}
	return key
}

// FromDraft accepts a draft: it assigns the table id, creation time and row
// ids, drops cells for unknown keys and back-fills missing cells with the
// column default.
func (e *Engine) FromDraft(d core.TableDraft) (core.Table, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return core.Table{}, fmt.Errorf("%w: %w", core.ErrMalformedDraft, core.ErrEmptyName)
	}
	if len(d.Columns) == 0 {
		return core.Table{}, fmt.Errorf("%w: no columns", core.ErrMalformedDraft)
	}
	theme := d.ThemeColor
	if !core.ValidThemeColor(theme) {
		theme = core.DefaultThemeColor
	}
	t := core.Table{
		ID:          e.ids.NewID(),
		Name:        name,
		Description: strings.TrimSpace(d.Description),
		Columns:     make([]core.Column, 0, len(d.Columns)),
		Rows:        make([]core.Row, 0, len(d.Rows)),
		CreatedAt:   e.now().UTC(),
		ThemeColor:  theme,
	}
	for _, c := range d.Columns {
		if err := c.Validate(); err != nil {
			return core.Table{}, fmt.Errorf("%w: %w", core.ErrMalformedDraft, err)
		}
		if t.ColumnIndex(c.Key) >= 0 {
			return core.Table{}, fmt.Errorf("%w: %w: %q", core.ErrMalformedDraft, core.ErrDuplicateColumnKey, c.Key)
		}
		if c.Aggregation == "" {
			c.Aggregation = core.AggNone
		}
		t.Columns = append(t.Columns, c)
	}
	for _, cells := range d.Rows {
		t.Rows = append(t.Rows, core.Row{ID: e.ids.NewID(), Cells: shapeCells(t.Columns, cells)})
	}
	return t, nil
}

// shapeCells returns cells holding exactly the keys of cols.
func shapeCells(cols []core.Column, cells core.Cells) core.Cells {
	out := make(core.Cells, len(cols))
	for _, c := range cols {
		if v, ok := cells[c.Key]; ok {
			out[c.Key] = v
		} else {
			out[c.Key] = core.DefaultValue(c.Type)
		}
	}
	return out
}

// Normalize repairs row shape on a table loaded from outside the engine:
// missing cells are back-filled, unknown cells dropped and missing row ids
// generated.
func (e *Engine) Normalize(t core.Table) core.Table {
	out := t.Clone()
	if out.Columns == nil {
		out.Columns = []core.Column{}
	}
	if out.Rows == nil {
		out.Rows = []core.Row{}
	}
	seen := make(map[string]bool, len(out.Rows))
	for i, r := range out.Rows {
		if r.ID == "" || seen[r.ID] {
			r.ID = e.ids.NewID()
		}
		seen[r.ID] = true
		r.Cells = shapeCells(out.Columns, r.Cells)
		out.Rows[i] = r
	}
	return out
}
