package util

import (
	"strings"
	"unicode/utf8"
)

// CollapseSpace joins all whitespace runs into single spaces and trims the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContentPrefix returns the first n runes of s after collapsing whitespace.
// Table cells on the remote site show content this way, so the prefix can be
// matched against them.
func ContentPrefix(s string, n int) string {
	s = CollapseSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
