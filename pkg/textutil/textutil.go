// Package textutil holds small string helpers shared by storage and classification code.
package textutil

import "unicode/utf8"

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
