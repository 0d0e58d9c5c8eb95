package storage

import (
	"context"
	"fmt"
)

type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) InsertLLMCall(ctx context.Context, rec LLMCallRecord) error {
	rec = rec.withDefaults()
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(call_id, operation, review_id, persona_id, provider_name, model, status, error_type, duration_ms, created_at)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), $7, NULLIF($8,''), $9, $10)`,
		rec.CallID, rec.Operation, rec.ReviewID, rec.PersonaID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
