package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2

	// maxCellWidth truncates free-text cells such as comments and details.
	maxCellWidth = 60
)

// writeTable prints rows in aligned columns. Widths ignore ANSI styling so
// colored states line up with plain text.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	cols := len(headers)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	cell := func(row []string, idx int) string {
		if idx >= len(row) {
			return ""
		}
		value := row[idx]
		if runewidth.StringWidth(stripANSI(value)) > maxCellWidth && !strings.Contains(value, "\x1b[") {
			value = runewidth.Truncate(value, maxCellWidth, "...")
		}
		return value
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for idx := 0; idx < cols; idx++ {
			widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(cell(row, idx))))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	w := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for idx := 0; idx < cols; idx++ {
			value := cell(row, idx)
			w.WriteString(value)
			if idx < cols-1 {
				pad := widths[idx] - runewidth.StringWidth(stripANSI(value))
				w.WriteString(strings.Repeat(" ", max(pad, 0)+tablePadding))
			}
		}
		w.WriteString("\n")
	}

	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	return w.Flush()
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// stripANSI removes CSI escape sequences.
func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		for i += 2; i < len(value); i++ {
			if ch := value[i]; ch >= 0x40 && ch <= 0x7e {
				break
			}
		}
	}
	return b.String()
}
