package providers

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	mockLineCountPattern = regexp.MustCompile(`Document line count: (\d+)`)
	mockGroupsPattern    = regexp.MustCompile(`(?s)<groups>(.*)</groups>`)
)

// MockProvider returns deterministic, well-formed output for every operation
// so the whole pipeline runs without network access.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if err := ctx.Err(); err != nil {
		return GenerateResponse{}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, err
	}
	text := "Mock response."
	switch strings.ToLower(req.Operation) {
	case OperationPersonaReview:
		text = mockReview(req)
	case OperationMetaSynthesis:
		text = mockSynthesis(req)
	}
	return GenerateResponse{Text: text}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, nil
}

func mockReview(req GenerateRequest) string {
	n := 1
	if m := mockLineCountPattern.FindStringSubmatch(req.Prompt); len(m) == 2 {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			n = v
		}
	}
	h := sha256.Sum256([]byte(req.System))
	tag := fmt.Sprintf("%x", h[:3])
	type comment struct {
		Content   string `json:"content"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	comments := []comment{
		{Content: "Mock note " + tag + ": the opening should state the purpose more directly.", StartLine: 0, EndLine: min(1, n-1)},
		{Content: "Mock note " + tag + ": this passage would benefit from a concrete example.", StartLine: n / 2, EndLine: n / 2},
	}
	b, _ := json.Marshal(map[string]any{"comments": comments})
	return string(b)
}

func mockSynthesis(req GenerateRequest) string {
	type inComment struct {
		Ref     int    `json:"ref"`
		Content string `json:"content"`
	}
	type inGroup struct {
		Group    int         `json:"group"`
		Comments []inComment `json:"comments"`
	}
	var groups []inGroup
	if m := mockGroupsPattern.FindStringSubmatch(req.Prompt); len(m) == 2 {
		_ = json.Unmarshal([]byte(strings.TrimSpace(m[1])), &groups)
	}
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		refs := make([]int, 0, len(g.Comments))
		parts := make([]string, 0, len(g.Comments))
		for _, c := range g.Comments {
			refs = append(refs, c.Ref)
			parts = append(parts, c.Content)
		}
		out = append(out, map[string]any{
			"group": g.Group,
			"clusters": []map[string]any{{
				"refs":       refs,
				"similarity": 0.9,
				"content":    strings.Join(parts, " | "),
				"category":   "clarity",
				"priority":   "medium",
			}},
		})
	}
	b, _ := json.Marshal(map[string]any{"groups": out})
	return string(b)
}
