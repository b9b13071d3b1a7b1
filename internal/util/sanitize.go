package util

import (
	"strings"
	"unicode"
)

// CleanText trims user-supplied text and drops control characters. The
// result is stored and published as-is; escaping belongs to whatever
// renders it.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// FirstNonEmpty returns the first argument that is not blank after trimming.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
