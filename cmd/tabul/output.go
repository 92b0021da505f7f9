package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

var (
	colorPurple = lipgloss.Color("#7D56F4")
	colorGray   = lipgloss.Color("#626262")
	colorRed    = lipgloss.Color("#FF5F87")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = cellStyle.Foreground(colorRed)
	borderStyle = lipgloss.NewStyle().Foreground(colorGray)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTable prints rows under headers. On a terminal the table has a
// rounded, colored border; otherwise plain ascii so that output stays greppable.
// A row whose errorCol cell is set is highlighted.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	renderTableHighlight(w, headers, rows, -1)
}

func renderTableHighlight(w io.Writer, headers []string, rows [][]string, errorCol int) {
	t := table.New().
		Headers(headers...).
		Rows(rows...)

	if isTerminal(w) {
		t = t.Border(lipgloss.RoundedBorder()).BorderStyle(borderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if errorCol >= 0 && row >= 0 && row < len(rows) && rows[row][errorCol] != "" {
					return errorStyle
				}
				return cellStyle
			})
	} else {
		t = t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().Padding(0, 1)
			})
	}
	fmt.Fprintln(w, t.Render())
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// stringify renders record values for display. nil is the empty string.
func stringify(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			out[i] = ""
		case []byte:
			out[i] = string(x)
		case time.Time:
			out[i] = x.Format(time.RFC3339Nano)
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}
