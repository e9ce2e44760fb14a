package helpers

import (
	"strings"
)

// Truncate shortens s to at most n bytes of collapsed text, appending an
// ellipsis when anything was cut. Whitespace runs collapse to single spaces
// first so truncation never exposes ragged newlines.
func Truncate(s string, n int) string {
	s = CollapseWhitespace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := s[:n]
	// Back off to the previous space so words stay whole.
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

// CollapseWhitespace trims s and squeezes internal whitespace runs into
// single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ExtractFirstJSON returns the first balanced {...} object found in s, or s
// unchanged when none is found. Model output often wraps JSON in prose or
// code fences; downstream parsing wants just the object.
func ExtractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
