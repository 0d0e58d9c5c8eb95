package review

import (
	"fmt"
	"strings"

	"vos/internal/models"
	"vos/internal/util"
)

// systemPrompt layers the persona's tone and focus onto its instructions.
func systemPrompt(p models.Persona) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.SystemPrompt))
	if len(p.FocusAreas) > 0 {
		b.WriteString("\n\nFocus areas: ")
		b.WriteString(strings.Join(p.FocusAreas, ", "))
	}
	if p.Tone != "" {
		b.WriteString("\nTone: ")
		b.WriteString(string(p.Tone))
	}
	return b.String()
}

func reviewPrompt(lines []string) string {
	return fmt.Sprintf(`Review this document and provide specific, actionable comments.

Document line count: %d
Each line below is prefixed with its 0-based line number.
---
%s---

Respond with JSON only, in exactly this shape:
{"comments":[{"content":"your comment","start_line":0,"end_line":0}]}

Rules:
- start_line and end_line are 0-based line numbers from the listing above
- end_line must be >= start_line
- provide 3-5 comments, each on a different part of the document
- be specific and concise`, len(lines), util.NumberLines(lines))
}
