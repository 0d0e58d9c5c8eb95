package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vos/internal/models"
	"vos/internal/providers"
	"vos/internal/review"

	"github.com/rs/zerolog"
)

// Judge decides which comments inside each location group share a concern.
type Judge interface {
	Judge(ctx context.Context, reviewID string, sorted []models.Comment, groups [][]int) ([]GroupVerdict, error)
}

// ModelJudge asks the completion model to cluster every group in one call.
type ModelJudge struct {
	gen       review.Generator
	audit     review.AuditLog
	log       zerolog.Logger
	maxTokens int
}

func NewModelJudge(gen review.Generator, audit review.AuditLog, log zerolog.Logger, maxTokens int) *ModelJudge {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ModelJudge{gen: gen, audit: audit, log: log, maxTokens: maxTokens}
}

const judgeSystemPrompt = `You consolidate feedback from several document reviewers.
Within each group, cluster the comments that raise the same underlying concern.
Judge similarity on a 0 to 1 scale, where 1 means the comments say the same thing.
For each cluster write one merged comment that keeps every distinct point.
Classify each cluster with a category (structure, clarity, technical, security, accessibility)
and a priority (critical, high, medium, low).`

type promptComment struct {
	Ref     int    `json:"ref"`
	Persona string `json:"persona"`
	Lines   string `json:"lines"`
	Content string `json:"content"`
}

type promptGroup struct {
	Group    int             `json:"group"`
	Comments []promptComment `json:"comments"`
}

func judgePrompt(sorted []models.Comment, groups [][]int) (string, error) {
	payload := make([]promptGroup, 0, len(groups))
	for gi, g := range groups {
		pg := promptGroup{Group: gi, Comments: make([]promptComment, 0, len(g))}
		for _, idx := range g {
			c := sorted[idx]
			pg.Comments = append(pg.Comments, promptComment{
				Ref:     idx,
				Persona: c.PersonaName,
				Lines:   fmt.Sprintf("%d-%d", c.StartLine, c.EndLine),
				Content: c.Content,
			})
		}
		payload = append(payload, pg)
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode groups: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("Cluster the reviewer comments in each group below.\n\n<groups>\n")
	sb.Write(b)
	sb.WriteString("\n</groups>\n\n")
	sb.WriteString(`Respond with JSON only, in exactly this shape:
{"groups":[{"group":0,"clusters":[{"refs":[0,1],"similarity":0.8,"content":"merged comment","category":"clarity","priority":"medium"}]}]}

Rules:
- only use refs from the same group
- every ref appears in at most one cluster
- a comment unlike the others in its group is a cluster of its own`)
	return sb.String(), nil
}

func (j *ModelJudge) Judge(ctx context.Context, reviewID string, sorted []models.Comment, groups [][]int) ([]GroupVerdict, error) {
	prompt, err := judgePrompt(sorted, groups)
	if err != nil {
		return nil, err
	}
	req := providers.GenerateRequest{
		Operation:   providers.OperationMetaSynthesis,
		System:      judgeSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   j.maxTokens,
		Temperature: 0.2,
	}
	resp, _, err := j.gen.Generate(ctx, req, func(a providers.Attempt) {
		review.RecordAttempt(ctx, j.audit, j.log, providers.OperationMetaSynthesis, reviewID, "", a)
	})
	if err != nil {
		return nil, err
	}
	return parseVerdicts(resp.Text)
}

func parseVerdicts(text string) ([]GroupVerdict, error) {
	raw := providers.ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("parse synthesis: no json object in response")
	}
	var out struct {
		Groups []GroupVerdict `json:"groups"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse synthesis: %w", err)
	}
	if out.Groups == nil {
		return nil, fmt.Errorf("parse synthesis: missing groups")
	}
	return out.Groups, nil
}
