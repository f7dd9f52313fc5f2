package datasummary

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const nullText = "NaN"

// renderFrame lays out preview rows as a data frame head: a left-aligned
// positional index, then right-aligned columns separated by two spaces.
func renderFrame(columns []string, rows [][]Cell) string {
	if len(columns) == 0 || len(rows) == 0 {
		idx := make([]string, len(rows))
		for i := range rows {
			idx[i] = strconv.Itoa(i)
		}
		return fmt.Sprintf("Empty DataFrame\nColumns: [%s]\nIndex: [%s]\n",
			strings.Join(columns, ", "), strings.Join(idx, ", "))
	}

	idxWidth := len(strconv.Itoa(len(rows) - 1))
	widths := make([]int, len(columns))
	for j, name := range columns {
		widths[j] = utf8.RuneCountInString(name)
		for _, row := range rows {
			if n := utf8.RuneCountInString(cellText(row, j)); n > widths[j] {
				widths[j] = n
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", idxWidth))
	for j, name := range columns {
		sb.WriteString("  ")
		sb.WriteString(padLeft(name, widths[j]))
	}
	sb.WriteByte('\n')
	for i, row := range rows {
		sb.WriteString(padRight(strconv.Itoa(i), idxWidth))
		for j := range columns {
			sb.WriteString("  ")
			sb.WriteString(padLeft(cellText(row, j), widths[j]))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func cellText(row []Cell, j int) string {
	if j >= len(row) || row[j].Null {
		return nullText
	}
	return row[j].Value
}

func padLeft(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}

func padRight(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// clip shortens s to at most max runes, marking the cut with "...".
// max <= 0 disables clipping.
func clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
