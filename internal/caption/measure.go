package caption

import "strings"

// Measurer decides whether text would overflow a page.
type Measurer interface {
	Overflows(text string) bool
}

// MeasurerFunc adapts a function to [Measurer].
type MeasurerFunc func(text string) bool

// Overflows implements Measurer.
func (f MeasurerFunc) Overflows(text string) bool { return f(text) }

// CharMeasurer is a column-budget measurer for callers without real font
// metrics. Text is wrapped with [SoftBreaks] at Columns and overflows when it
// needs more than MaxRows rows.
type CharMeasurer struct {
	Columns int
	MaxRows int
}

// NewCharMeasurer derives the column budget from a pixel width and an
// average glyph width.
func NewCharMeasurer(widthPx, charWidthPx, maxRows int) CharMeasurer {
	cols := 1
	if charWidthPx > 0 && widthPx > charWidthPx {
		cols = widthPx / charWidthPx
	}
	return CharMeasurer{Columns: cols, MaxRows: maxRows}
}

// Overflows implements Measurer.
func (m CharMeasurer) Overflows(text string) bool {
	if m.MaxRows <= 0 {
		return false
	}
	return Rows(text, m.Columns) > m.MaxRows
}

// Rows returns the number of rows text occupies when wrapped at cols.
func Rows(text string, cols int) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(SoftBreaks(text, cols))
}

// SoftBreaks splits text into rows of at most maxChars runes, preferring to
// break at a space within the last quarter of the row. The space at a break
// is consumed.
func SoftBreaks(text string, maxChars int) []string {
	r := []rune(text)
	if maxChars <= 0 || len(r) <= maxChars {
		return []string{text}
	}

	var rows []string
	start := 0
	for start < len(r) {
		end := start + maxChars
		if end >= len(r) {
			rows = append(rows, string(r[start:]))
			break
		}
		brk := end
		for i := end; float64(i) > float64(start)+float64(maxChars)*0.75; i-- {
			if r[i] == ' ' {
				brk = i
				break
			}
		}
		rows = append(rows, string(r[start:brk]))
		start = brk
		if r[brk] == ' ' {
			start++
		}
	}
	return rows
}
