package output

import (
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderTable(t Table) string {
	if len(t.Rows) == 0 {
		lines := []string{t.Title, "", emptyMessage(t)}
		return ascii.DrawBox(strings.Join(lines, "\n"), 0)
	}

	w := table.NewWriter()
	w.SetStyle(table.StyleRounded)
	w.Style().Format.Footer = text.FormatDefault
	if t.Title != "" {
		w.SetTitle(t.Title)
	}
	w.AppendHeader(toRow(t.Header))
	for _, row := range t.Rows {
		w.AppendRow(toRow(row))
	}
	if t.Footer != "" {
		footer := make(table.Row, max(len(t.Header), 1))
		for i := range footer {
			footer[i] = ""
		}
		footer[len(footer)-1] = t.Footer
		w.AppendFooter(footer)
	}
	return w.Render() + "\n"
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, cell := range cells {
		row[i] = cell
	}
	return row
}

func emptyMessage(t Table) string {
	if t.Empty != "" {
		return t.Empty
	}
	return "(none)"
}
