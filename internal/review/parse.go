package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"vos/internal/metrics"
	"vos/internal/providers"
	"vos/internal/util"
)

// Draft is a model comment before it is bound to a review.
type Draft struct {
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type draftEnvelope struct {
	Comments []Draft `json:"comments"`
}

var (
	linesTagPattern     = regexp.MustCompile(`\[LINES?\s*(\d+)(?:\s*-\s*(\d+))?\]`)
	paragraphTagPattern = regexp.MustCompile(`\[PARAGRAPH\s*(\d+)\]`)
)

// parseDrafts turns a model response into validated drafts for a document of
// the given lines. It fails only when nothing in the response is readable.
func parseDrafts(text string, lines []string) ([]Draft, error) {
	raw, ok := decodeJSONDrafts(text)
	if !ok {
		raw, ok = decodeTaggedDrafts(text, lines)
	}
	if !ok {
		return nil, fmt.Errorf("parse comments: %w", ErrUnparsableResponse)
	}
	out := make([]Draft, 0, len(raw))
	for _, d := range raw {
		v, err := validateDraft(d, len(lines))
		if err != nil {
			metrics.CommentsDropped.WithLabelValues(dropReason(d)).Inc()
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeJSONDrafts(text string) ([]Draft, bool) {
	if obj := providers.ExtractJSON(text); obj != "" {
		var env draftEnvelope
		if err := json.Unmarshal([]byte(obj), &env); err == nil && env.Comments != nil {
			return env.Comments, true
		}
	}
	if arr := providers.ExtractJSONArray(text); arr != "" {
		var list []Draft
		if err := json.Unmarshal([]byte(arr), &list); err == nil {
			return list, true
		}
	}
	return nil, false
}

type tagMatch struct {
	start, end int // span of the tag itself
	first      int
	last       int
}

// decodeTaggedDrafts reads "[LINES a-b] text" and "[PARAGRAPH n] text"
// responses. A comment's text runs until the next tag.
func decodeTaggedDrafts(text string, lines []string) ([]Draft, bool) {
	var tags []tagMatch
	for _, m := range linesTagPattern.FindAllStringSubmatchIndex(text, -1) {
		first, _ := strconv.Atoi(text[m[2]:m[3]])
		last := first
		if m[4] >= 0 {
			last, _ = strconv.Atoi(text[m[4]:m[5]])
		}
		tags = append(tags, tagMatch{start: m[0], end: m[1], first: first, last: last})
	}
	if len(tags) == 0 {
		paragraphs := util.Paragraphs(lines)
		for _, m := range paragraphTagPattern.FindAllStringSubmatchIndex(text, -1) {
			idx, _ := strconv.Atoi(text[m[2]:m[3]])
			if idx >= len(paragraphs) {
				// No such paragraph; keep the span so its text is not glued
				// onto the previous comment, and let validation drop it.
				tags = append(tags, tagMatch{start: m[0], end: m[1], first: -1, last: -1})
				continue
			}
			p := paragraphs[idx]
			tags = append(tags, tagMatch{start: m[0], end: m[1], first: p.StartLine, last: p.EndLine})
		}
	}
	if len(tags) == 0 {
		return nil, false
	}
	out := make([]Draft, 0, len(tags))
	for i, tag := range tags {
		stop := len(text)
		if i+1 < len(tags) {
			stop = tags[i+1].start
		}
		out = append(out, Draft{
			Content:   strings.TrimSpace(text[tag.end:stop]),
			StartLine: tag.first,
			EndLine:   tag.last,
		})
	}
	return out, true
}

// validateDraft enforces 0 <= start <= end < n. An end past the last line is
// clamped; everything else out of range is rejected.
func validateDraft(d Draft, n int) (Draft, error) {
	d.Content = util.SanitizeText(d.Content)
	if d.Content == "" {
		return Draft{}, fmt.Errorf("empty comment: %w", ErrInvalidRange)
	}
	if d.StartLine < 0 || d.StartLine >= n {
		return Draft{}, fmt.Errorf("start line %d of %d: %w", d.StartLine, n, ErrInvalidRange)
	}
	if d.EndLine < d.StartLine {
		return Draft{}, fmt.Errorf("end line %d before start %d: %w", d.EndLine, d.StartLine, ErrInvalidRange)
	}
	if d.EndLine >= n {
		d.EndLine = n - 1
	}
	return d, nil
}

func dropReason(d Draft) string {
	switch {
	case strings.TrimSpace(d.Content) == "":
		return "empty"
	case d.EndLine < d.StartLine:
		return "inverted"
	default:
		return "out_of_range"
	}
}
