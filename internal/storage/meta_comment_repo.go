package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vos/internal/models"
)

type MetaCommentRepo struct {
	db *DB
}

func NewMetaCommentRepo(db *DB) *MetaCommentRepo {
	return &MetaCommentRepo{db: db}
}

func (r *MetaCommentRepo) SaveMetaComments(ctx context.Context, reviewID string, metas []models.MetaComment) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save meta comments: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `UPDATE reviews SET synthesized_at=$2 WHERE id=$1`, reviewID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("stamp review synthesized: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stamp review synthesized: %w", ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM meta_comments WHERE review_id=$1`, reviewID); err != nil {
		return fmt.Errorf("clear meta comments: %w", err)
	}
	for i, m := range metas {
		sources, err := json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("encode meta sources: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO meta_comments (id, review_id, position, content, start_line, end_line, category, priority, sources, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
			m.ID, reviewID, i, m.Content, m.StartLine, m.EndLine, string(m.Category), string(m.Priority), string(sources), m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert meta comment %s: %w", m.ID, pgErr(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit meta comments tx: %w", err)
	}
	return nil
}

func (r *MetaCommentRepo) LoadMetaComments(ctx context.Context, reviewID string) ([]models.MetaComment, bool, error) {
	var synthesizedAt *time.Time
	if err := r.db.Pool.QueryRow(ctx, `SELECT synthesized_at FROM reviews WHERE id=$1`, reviewID).Scan(&synthesizedAt); err != nil {
		return nil, false, fmt.Errorf("load meta comments: %w", pgErr(err))
	}
	if synthesizedAt == nil {
		return nil, false, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, review_id, content, start_line, end_line, category, priority, sources, created_at
FROM meta_comments
WHERE review_id=$1
ORDER BY position`, reviewID)
	if err != nil {
		return nil, false, fmt.Errorf("list meta comments: %w", err)
	}
	defer rows.Close()
	out := make([]models.MetaComment, 0)
	for rows.Next() {
		var (
			m                  models.MetaComment
			category, priority string
			sources            []byte
		)
		if err := rows.Scan(&m.ID, &m.ReviewID, &m.Content, &m.StartLine, &m.EndLine, &category, &priority, &sources, &m.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan meta comment: %w", err)
		}
		m.Category = models.Category(category)
		m.Priority = models.Priority(priority)
		if err := json.Unmarshal(sources, &m.Sources); err != nil {
			return nil, false, fmt.Errorf("decode meta sources: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate meta comments: %w", err)
	}
	return out, true, nil
}
