package util

import (
	"strings"
	"unicode"
)

// Snippet flattens s onto one printable line of at most maxRunes runes, for
// logs and error messages that quote model output.
func Snippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 200
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	if len(out) > maxRunes {
		return strings.TrimSpace(string(out[:maxRunes])) + "..."
	}
	return string(out)
}
