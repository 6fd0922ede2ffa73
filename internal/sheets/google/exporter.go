// Package google mirrors tables into tabs of a Google spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finai/internal/core"
	"finai/internal/ports"
	"finai/internal/table"
)

const (
	idPrefixLen  = 8
	maxNameRunes = 80
	totalLabel   = "Total"
)

// Exporter writes each table into its own tab titled "<name> [<id prefix>]".
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *slog.Logger
}

var _ ports.TableExporter = (*Exporter)(nil)

// New builds an Exporter. When opts are given they replace the client
// options derived from creds.
func New(ctx context.Context, spreadsheetID string, creds Credentials, logger *slog.Logger, opts ...goption.ClientOption) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		base, err := creds.clientOptions(ctx)
		if err != nil {
			return nil, err
		}
		opts = base
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets exporter ready", "spreadsheet_id", spreadsheetID)
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// ExportTable replaces the content of the table's tab, creating or renaming
// the tab as needed. It returns the tab title.
func (e *Exporter) ExportTable(ctx context.Context, ownerID string, t core.Table) (string, error) {
	title := TabTitle(t)
	props, err := e.findTab(ctx, t.ID)
	if err != nil {
		return "", err
	}

	switch {
	case props == nil:
		resp, err := e.batch(ctx, &gsheet.Request{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		})
		if err != nil {
			return "", fmt.Errorf("add tab %q: %w", title, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			props = resp.Replies[0].AddSheet.Properties
		}
	case props.Title != title:
		_, err := e.batch(ctx, &gsheet.Request{
			UpdateSheetProperties: &gsheet.UpdateSheetPropertiesRequest{
				Properties: &gsheet.SheetProperties{SheetId: props.SheetId, Title: title},
				Fields:     "title",
			},
		})
		if err != nil {
			return "", fmt.Errorf("rename tab %q: %w", props.Title, err)
		}
	}

	rng := quoteTitle(title)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear tab %q: %w", title, err)
	}
	vr := &gsheet.ValueRange{Values: TableValues(t)}
	_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("write tab %q: %w", title, err)
	}

	e.logger.DebugContext(ctx, "Wrote table to spreadsheet",
		"table_id", t.ID,
		"owner_id", ownerID,
		"tab", title,
		"rows", len(t.Rows))
	return title, nil
}

// RemoveTable deletes the table's tab. A missing tab is not an error.
func (e *Exporter) RemoveTable(ctx context.Context, tableID string) error {
	props, err := e.findTab(ctx, tableID)
	if err != nil {
		return err
	}
	if props == nil {
		return nil
	}
	_, err = e.batch(ctx, &gsheet.Request{
		DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: props.SheetId},
	})
	if err != nil {
		return fmt.Errorf("delete tab %q: %w", props.Title, err)
	}
	return nil
}

func (e *Exporter) findTab(ctx context.Context, tableID string) (*gsheet.SheetProperties, error) {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	suffix := tabSuffix(tableID)
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && strings.HasSuffix(sh.Properties.Title, suffix) {
			return sh.Properties, nil
		}
	}
	return nil, nil
}

func (e *Exporter) batch(ctx context.Context, reqs ...*gsheet.Request) (*gsheet.BatchUpdateSpreadsheetResponse, error) {
	return e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(ctx).
		Do()
}

// TabTitle is the tab title of t. The id suffix keeps the title unique and
// lets a renamed table find its tab again.
func TabTitle(t core.Table) string {
	name := strings.TrimSpace(t.Name)
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name + tabSuffix(t.ID)
}

func tabSuffix(tableID string) string {
	prefix := tableID
	if len(prefix) > idPrefixLen {
		prefix = prefix[:idPrefixLen]
	}
	return " [" + prefix + "]"
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// TableValues lays t out as a header row of labels, one row per record and,
// when any column aggregates, a totals row.
func TableValues(t core.Table) [][]interface{} {
	out := make([][]interface{}, 0, len(t.Rows)+2)

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Label
	}
	out = append(out, header)

	for _, r := range t.Rows {
		line := make([]interface{}, len(t.Columns))
		for i, c := range t.Columns {
			line[i] = cellValue(r.Cells[c.Key], c.Type)
		}
		out = append(out, line)
	}

	totals := table.Aggregate(t.Columns, t.Rows)
	if len(totals) == 0 || len(t.Columns) == 0 {
		return out
	}
	line := make([]interface{}, len(t.Columns))
	for i := range line {
		line[i] = ""
	}
	for _, tot := range totals {
		if i := t.ColumnIndex(tot.ColumnKey); i >= 0 {
			line[i] = tot.Value
		}
	}
	if line[0] == "" {
		line[0] = totalLabel
	}
	return append(out, line)
}

func cellValue(v core.Value, typ core.ColumnType) interface{} {
	switch typ {
	case core.TypeNumber, core.TypeCurrency:
		return core.Round2(v.Float())
	case core.TypeCheckbox:
		return v.Truthy()
	default:
		return v.String()
	}
}
