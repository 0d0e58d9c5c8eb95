package review

import (
	"context"
	"errors"

	"vos/internal/metrics"
	"vos/internal/models"
	"vos/internal/providers"
	"vos/internal/storage"
	"vos/internal/util"

	"github.com/rs/zerolog"
)

// Generator is the provider surface the client needs; *providers.Manager
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, req providers.GenerateRequest, observe func(providers.Attempt)) (providers.GenerateResponse, providers.ProviderInfo, error)
}

// AuditLog records every provider attempt.
type AuditLog interface {
	InsertLLMCall(ctx context.Context, rec storage.LLMCallRecord) error
}

// Client asks one persona to review one document.
type Client struct {
	gen       Generator
	audit     AuditLog
	log       zerolog.Logger
	maxTokens int
}

func NewClient(gen Generator, audit AuditLog, log zerolog.Logger, maxTokens int) *Client {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{gen: gen, audit: audit, log: log, maxTokens: maxTokens}
}

// Review returns the persona's validated comments for lines. Out-of-range
// comments are dropped; an unreadable response is an error.
func (c *Client) Review(ctx context.Context, persona models.Persona, reviewID string, lines []string) ([]Draft, error) {
	req := providers.GenerateRequest{
		Operation:   providers.OperationPersonaReview,
		System:      systemPrompt(persona),
		Prompt:      reviewPrompt(lines),
		MaxTokens:   c.maxTokens,
		Temperature: 0.4,
	}
	resp, _, err := c.gen.Generate(ctx, req, func(a providers.Attempt) {
		RecordAttempt(ctx, c.audit, c.log, providers.OperationPersonaReview, reviewID, persona.ID, a)
	})
	if err != nil {
		return nil, &PersonaCallError{PersonaID: persona.ID, Err: err}
	}
	drafts, err := parseDrafts(resp.Text, lines)
	if err != nil {
		c.log.Warn().
			Str("review_id", reviewID).
			Str("persona_id", persona.ID).
			Str("response", util.Snippet(resp.Text, 200)).
			Msg("unparsable persona response")
		return nil, &PersonaCallError{PersonaID: persona.ID, Err: err}
	}
	return drafts, nil
}

// RecordAttempt writes one provider attempt to the audit log and metrics.
// Audit failures are logged and otherwise ignored.
func RecordAttempt(ctx context.Context, audit AuditLog, log zerolog.Logger, operation, reviewID, personaID string, a providers.Attempt) {
	status := "ok"
	if a.Err != nil {
		status = "error"
	}
	name := a.Info.Name
	if name == "" {
		name = a.Ref.Name
	}
	metrics.LLMCalls.WithLabelValues(name, operation, status).Inc()
	if a.Err != nil {
		log.Warn().Err(a.Err).
			Str("provider", a.Ref.Raw).
			Str("error_type", string(a.ErrorType)).
			Str("review_id", reviewID).
			Str("persona_id", personaID).
			Msg("llm attempt failed")
	}
	if audit == nil {
		return
	}
	rec := storage.LLMCallRecord{
		Operation:    operation,
		ReviewID:     reviewID,
		PersonaID:    personaID,
		ProviderName: name,
		Model:        a.Info.Model,
		Status:       status,
		ErrorType:    string(a.ErrorType),
		DurationMS:   a.Duration.Milliseconds(),
	}
	// The audit row must land even when the call itself was cancelled.
	if err := audit.InsertLLMCall(context.WithoutCancel(ctx), rec); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("record llm call")
	}
}
