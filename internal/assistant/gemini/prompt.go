package gemini

import (
	"fmt"
	"strings"

	"finai/internal/core"
)

// maxContextRows caps how many rows per table go into an advice prompt.
const maxContextRows = 50

func buildDraftPrompt(request string) string {
	var sb strings.Builder
	sb.WriteString("The user wants to create a Brazilian personal finance table. ")
	fmt.Fprintf(&sb, "Request: %q\n", request)
	sb.WriteString("Produce a table structure: name, description, columns and a few example rows.\n\n")
	sb.WriteString("COLUMN TYPES:\n")
	sb.WriteString("- Money columns (prices, salaries, costs, totals) MUST use 'currency'.\n")
	sb.WriteString("- Other quantities use 'number'.\n")
	sb.WriteString("- Fixed text such as category or status uses 'text'.\n")
	sb.WriteString("- Dates use 'date' with ISO values (YYYY-MM-DD).\n")
	sb.WriteString("- Yes/no marks use 'checkbox' with values 'true' or 'false'.\n")
	sb.WriteString("Column keys are short, unique, lowercase identifiers. ")
	sb.WriteString("Use the key 'category' for a category column and 'date' for the main date column.\n\n")
	sb.WriteString("ROWS:\n")
	sb.WriteString("Each row has 'rowValues', a list of {columnKey, cellValue} pairs. ")
	sb.WriteString("cellValue is the raw content without the R$ symbol; R$ 1.500,00 is written \"1500.00\".\n")
	sb.WriteString("Labels and descriptions are in Brazilian Portuguese.")
	return sb.String()
}

func buildAdvicePrompt(tables []core.Table, question string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert Brazilian personal finance advisor. These are the user's tables:\n")
	if len(tables) == 0 {
		sb.WriteString("(no tables yet)\n")
	}
	for _, t := range tables {
		writeTableContext(&sb, t)
	}
	fmt.Fprintf(&sb, "\nUser question: %s\n", question)
	sb.WriteString("Answer briefly and helpfully in Brazilian Portuguese. Always use R$ when quoting amounts.")
	return sb.String()
}

func writeTableContext(sb *strings.Builder, t core.Table) {
	fmt.Fprintf(sb, "\n## %s", t.Name)
	if t.Description != "" {
		fmt.Fprintf(sb, " (%s)", t.Description)
	}
	sb.WriteString("\n")
	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = fmt.Sprintf("%s [%s]", c.Label, c.Type)
	}
	sb.WriteString(strings.Join(labels, " | "))
	sb.WriteString("\n")

	for i, r := range t.Rows {
		if i == maxContextRows {
			fmt.Fprintf(sb, "... %d more rows\n", len(t.Rows)-maxContextRows)
			break
		}
		vals := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			vals[j] = core.ToDisplay(r.Cells[c.Key], c.Type)
		}
		sb.WriteString(strings.Join(vals, " | "))
		sb.WriteString("\n")
	}
}
