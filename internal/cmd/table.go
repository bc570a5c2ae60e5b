package cmd

import (
	"os"
	"strings"

	"golang.org/x/term"
	"golang.org/x/text/width"
)

// Column is one table column: a header and a fixed content width.
// Grounded on the teacher's internal/style.Table (Column/Alignment/
// AddRow/Render), rebuilt on golang.org/x/term and golang.org/x/text
// instead of lipgloss per the CLI table's own stack assignment — lipgloss
// stays internal/eventstail's.
type Column struct {
	Name  string
	Width int
}

// Table is a minimal width-aware table renderer for `hcom list`/`hcom
// events`. Unlike the teacher's version it carries no styling: hcom's CLI
// tables lean on golang.org/x/term for terminal-width detection and
// golang.org/x/text/width for display-width-aware truncation of instance
// names and message text, which can contain wide (CJK) runes.
type Table struct {
	columns []Column
	rows    [][]string
}

// NewTable builds a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{columns: columns}
}

// AddRow appends one row, padding short rows with empty cells.
func (t *Table) AddRow(values ...string) *Table {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
	return t
}

// Render formats the table as a header line, a rule, and one line per row,
// truncating any cell wider than its column (accounting for wide runes)
// with a trailing ellipsis.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	for i, col := range t.columns {
		sb.WriteString(pad(col.Name, col.Width))
		if i < len(t.columns)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")

	total := 0
	for i, col := range t.columns {
		total += col.Width
		if i < len(t.columns)-1 {
			total++
		}
	}
	sb.WriteString(strings.Repeat("-", total))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, col := range t.columns {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			sb.WriteString(pad(truncate(val, col.Width), col.Width))
			if i < len(t.columns)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// displayWidth sums each rune's terminal column width: 2 for East Asian
// wide/fullwidth runes, 1 for everything else.
func displayWidth(s string) int {
	total := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			total += 2
		default:
			total++
		}
	}
	return total
}

// truncate shortens s to fit within w display columns, replacing the tail
// with "..." when it doesn't. When w is 3 or less there is no room for the
// ellipsis, and a value that doesn't fit becomes the empty string.
func truncate(s string, w int) string {
	if displayWidth(s) <= w || w <= 3 {
		if displayWidth(s) <= w {
			return s
		}
		return s[:0]
	}
	var sb strings.Builder
	budget := w - 3
	cur := 0
	for _, r := range s {
		rw := 1
		if k := width.LookupRune(r).Kind(); k == width.EastAsianWide || k == width.EastAsianFullwidth {
			rw = 2
		}
		if cur+rw > budget {
			break
		}
		sb.WriteRune(r)
		cur += rw
	}
	sb.WriteString("...")
	return sb.String()
}

func pad(s string, w int) string {
	n := w - displayWidth(s)
	if n <= 0 {
		return s
	}
	return s + strings.Repeat(" ", n)
}

// terminalWidth reports the current stdout's column width, falling back to
// a sane default when stdout isn't a terminal (e.g. piped output) so
// `list`/`events` still produce fixed, script-friendly columns.
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 100
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}
