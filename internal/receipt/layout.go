package receipt

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Paper widths in characters for font A
const (
	Width58mm = 32
	Width80mm = 48
)

// Sign prefixes for FormatAmountLine
const (
	SignNone  = ""
	SignMinus = "-"
	SignPlus  = "+"
)

// columns holds the item-table layout for one paper width. Each numeric
// column includes a one-space gutter on its left.
type columns struct {
	name, qty, rate, amount int
}

func columnsFor(width int) columns {
	cols := columns{qty: 4, rate: 8, amount: 8}
	if width >= Width80mm {
		cols = columns{qty: 5, rate: 9, amount: 10}
	}
	cols.name = width - cols.qty - cols.rate - cols.amount
	return cols
}

// fits reports whether value leaves the gutter of a width-wide column free
func fits(value string, width int) bool {
	return utf8.RuneCountInString(value) < width
}

// FormatMoney formats an amount with exactly two decimals
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// FormatAmountLine renders label and amount on one width-wide line with the
// amount right-justified. The label is truncated if both do not fit.
func FormatAmountLine(label string, amount decimal.Decimal, sign string, width int) string {
	value := sign + FormatMoney(amount)
	room := width - utf8.RuneCountInString(value) - 1
	if room < 0 {
		room = 0
	}
	label = truncate(label, room)
	gap := width - utf8.RuneCountInString(label) - utf8.RuneCountInString(value)
	if gap < 1 {
		gap = 1
	}
	return label + strings.Repeat(" ", gap) + value
}

// PercentLabel embeds the stored percentage in a label, e.g. "GST (5%)".
// A zero percentage leaves the label unchanged.
func PercentLabel(label string, pct decimal.Decimal) string {
	if !pct.IsPositive() {
		return label
	}
	return label + " (" + pct.String() + "%)"
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func padLeft(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", width-n) + s
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width])
}

// wrap splits text into chunks of at most width runes
func wrap(text string, width int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return []string{""}
	}
	if width < 1 {
		return []string{string(runes)}
	}

	var lines []string
	for len(runes) > width {
		lines = append(lines, string(runes[:width]))
		runes = runes[width:]
	}
	return append(lines, string(runes))
}

// wrapWords wraps on spaces, falling back to hard breaks for long words
func wrapWords(text string, width int) []string {
	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			runes := []rune(word)
			lines = append(lines, string(runes[:width]))
			word = string(runes[width:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func separator(width int) string {
	return strings.Repeat("-", width)
}
