package output

import (
	"fmt"
	"strings"
)

func renderMarkdown(t Table) string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(t.Title)))
	}
	if len(t.Rows) == 0 {
		sb.WriteString(emptyMessage(t) + "\n")
		return sb.String()
	}

	sb.WriteString(markdownRow(t.Header))
	separators := make([]string, len(t.Header))
	for i := range separators {
		separators[i] = "---"
	}
	sb.WriteString("|" + strings.Join(separators, "|") + "|\n")
	for _, row := range t.Rows {
		sb.WriteString(markdownRow(row))
	}
	if t.Footer != "" {
		sb.WriteString(fmt.Sprintf("\n**%s**\n", escapeMarkdownCell(t.Footer)))
	}
	return sb.String()
}

func markdownRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, cell := range cells {
		escaped[i] = escapeMarkdownCell(cell)
	}
	return "| " + strings.Join(escaped, " | ") + " |\n"
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
