package storage

import (
	"context"
	"fmt"

	"vos/internal/models"
)

type CommentRepo struct {
	db *DB
}

func NewCommentRepo(db *DB) *CommentRepo {
	return &CommentRepo{db: db}
}

func (r *CommentRepo) AppendComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx append comments: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range comments {
		_, err := tx.Exec(ctx, `
INSERT INTO comments (id, document_id, review_id, persona_id, persona_name, persona_color, content, start_line, end_line, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, c.DocumentID, c.ReviewID, c.PersonaID, c.PersonaName, c.PersonaColor, c.Content, c.StartLine, c.EndLine, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert comment %s: %w", c.ID, pgErr(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit comments tx: %w", err)
	}
	return nil
}

func (r *CommentRepo) ListComments(ctx context.Context, reviewID string) ([]models.Comment, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, document_id, review_id, persona_id, persona_name, persona_color, content, start_line, end_line, created_at
FROM comments
WHERE review_id=$1
ORDER BY start_line, end_line, created_at, id`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	out := make([]models.Comment, 0)
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ReviewID, &c.PersonaID, &c.PersonaName, &c.PersonaColor, &c.Content, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}
