package message

import (
	"strings"
	"unicode/utf8"
)

const previewLimit = 240

// Preview returns a bounded log-safe preview of message text.
func Preview(text string) string {
	return Truncate(strings.TrimSpace(text), previewLimit)
}

// Truncate cuts s to at most maxBytes bytes on a rune boundary and marks the cut with "...".
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}

	cut := max(maxBytes, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "..."
}
