package strings

import (
	"strings"
)

// CellMaxLen is the widest value status tables print in one cell.
const CellMaxLen = 80

// minTruncateLen leaves room for one character plus "...".
const minTruncateLen = 4

// Truncate collapses whitespace so s fits on one line and cuts it to maxLen
// runes, ending in "..." when something was cut. maxLen below 4 is treated
// as 4.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
