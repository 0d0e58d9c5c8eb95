package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SplitLines splits content into 0-indexed lines. CRLF is treated as LF and
// a single trailing newline does not start a new line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

func LineCount(content string) int {
	return len(SplitLines(content))
}

// NumberLines renders lines as "   12| text" so a model can cite line numbers.
func NumberLines(lines []string) string {
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%*d| %s\n", width, i, l)
	}
	return b.String()
}

type Paragraph struct {
	Index     int
	StartLine int
	EndLine   int
	Text      string
}

// Paragraphs groups consecutive non-blank lines.
func Paragraphs(lines []string) []Paragraph {
	out := make([]Paragraph, 0)
	start := -1
	for i, l := range lines {
		blank := strings.TrimSpace(l) == ""
		switch {
		case !blank && start < 0:
			start = i
		case blank && start >= 0:
			out = append(out, Paragraph{Index: len(out), StartLine: start, EndLine: i - 1, Text: strings.Join(lines[start:i], "\n")})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Paragraph{Index: len(out), StartLine: start, EndLine: len(lines) - 1, Text: strings.Join(lines[start:], "\n")})
	}
	return out
}

// ExtractTitle returns the first level-one markdown heading, falling back to
// the file name without its extension.
func ExtractTitle(content, filename string) string {
	for _, l := range SplitLines(content) {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "# ") {
			if title := strings.TrimSpace(strings.TrimPrefix(t, "# ")); title != "" {
				return title
			}
		}
	}
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		return "Untitled"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
