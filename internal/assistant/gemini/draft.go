package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"finai/internal/core"
)

// schema is the subset of the Gemini response schema used here.
type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
}

var draftSchema = &schema{
	Type: "OBJECT",
	Properties: map[string]*schema{
		"name":        {Type: "STRING"},
		"description": {Type: "STRING"},
		"columns": {
			Type: "ARRAY",
			Items: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"key":   {Type: "STRING"},
					"label": {Type: "STRING"},
					"type":  {Type: "STRING", Enum: []string{"text", "number", "date", "currency", "checkbox"}},
				},
				Required: []string{"key", "label", "type"},
			},
		},
		"rows": {
			Type: "ARRAY",
			Items: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"rowValues": {
						Type: "ARRAY",
						Items: &schema{
							Type: "OBJECT",
							Properties: map[string]*schema{
								"columnKey": {Type: "STRING"},
								"cellValue": {Type: "STRING"},
							},
							Required: []string{"columnKey", "cellValue"},
						},
					},
				},
				Required: []string{"rowValues"},
			},
		},
	},
	Required: []string{"name", "description", "columns", "rows"},
}

// rawDraft is the model output before normalization.
type rawDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Columns     []struct {
		Key   string `json:"key"`
		Label string `json:"label"`
		Type  string `json:"type"`
	} `json:"columns"`
	Rows []struct {
		RowValues []struct {
			ColumnKey string          `json:"columnKey"`
			CellValue json.RawMessage `json:"cellValue"`
		} `json:"rowValues"`
	} `json:"rows"`
}

// parseDraft turns model output into a draft. Number and currency columns
// aggregate with sum. Cell strings are coerced per column type, cells for
// unknown keys are dropped and missing cells get the type default.
func parseDraft(text string) (core.TableDraft, error) {
	text = stripFences(text)
	if text == "" {
		return core.TableDraft{}, fmt.Errorf("%w: empty response", core.ErrMalformedDraft)
	}

	var raw rawDraft
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return core.TableDraft{}, fmt.Errorf("%w: %v", core.ErrMalformedDraft, err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return core.TableDraft{}, fmt.Errorf("%w: missing name", core.ErrMalformedDraft)
	}
	if len(raw.Columns) == 0 {
		return core.TableDraft{}, fmt.Errorf("%w: no columns", core.ErrMalformedDraft)
	}

	d := core.TableDraft{
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
		Columns:     make([]core.Column, 0, len(raw.Columns)),
		Rows:        make([]core.Cells, 0, len(raw.Rows)),
		ThemeColor:  core.DefaultThemeColor,
	}
	types := make(map[string]core.ColumnType, len(raw.Columns))
	for _, rc := range raw.Columns {
		key := strings.TrimSpace(rc.Key)
		if key == "" {
			return core.TableDraft{}, fmt.Errorf("%w: column without key", core.ErrMalformedDraft)
		}
		if _, dup := types[key]; dup {
			return core.TableDraft{}, fmt.Errorf("%w: %w: %q", core.ErrMalformedDraft, core.ErrDuplicateColumnKey, key)
		}
		typ, err := core.ParseColumnType(rc.Type)
		if err != nil {
			return core.TableDraft{}, fmt.Errorf("%w: column %q: %w", core.ErrMalformedDraft, key, err)
		}
		agg := core.AggNone
		if typ.Numeric() {
			agg = core.AggSum
		}
		label := strings.TrimSpace(rc.Label)
		if label == "" {
			label = key
		}
		types[key] = typ
		d.Columns = append(d.Columns, core.Column{Key: key, Label: label, Type: typ, Aggregation: agg})
	}

	for _, rr := range raw.Rows {
		cells := make(core.Cells, len(d.Columns))
		for _, rv := range rr.RowValues {
			typ, ok := types[rv.ColumnKey]
			if !ok {
				continue
			}
			cells[rv.ColumnKey] = core.ParseCell(cellString(rv.CellValue), typ)
		}
		for _, c := range d.Columns {
			if _, ok := cells[c.Key]; !ok {
				cells[c.Key] = core.DefaultValue(c.Type)
			}
		}
		d.Rows = append(d.Rows, cells)
	}
	return d, nil
}

// cellString reads a cell value the model may have sent as a string, number
// or boolean.
func cellString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
