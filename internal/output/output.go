package output

import (
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// Table is a titled grid of cells. Payload is what the JSON format encodes.
type Table struct {
	Title   string
	Header  []string
	Rows    [][]string
	Footer  string
	Empty   string
	Payload any
}

// Render writes t in the requested format.
func Render(format Format, t Table) (string, error) {
	switch format {
	case FormatJSON:
		return renderJSON(t.Payload, true)
	case FormatMarkdown:
		return renderMarkdown(t), nil
	case FormatTable:
		return renderTable(t), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
