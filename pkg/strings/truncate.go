// Package strings holds text helpers shared by the command line output.
package strings

import (
	"strings"
)

// DefaultCellMaxLen is the widest free-text cell rendered in a table.
const DefaultCellMaxLen = 48

// minCellLen leaves room for one character plus the ellipsis.
const minCellLen = 4

// TruncateCell collapses all whitespace in s to single spaces and cuts the
// result to maxLen runes, marking a cut with "...". A maxLen below four is
// treated as four.
func TruncateCell(s string, maxLen int) string {
	if maxLen < minCellLen {
		maxLen = minCellLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
