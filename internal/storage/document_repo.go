package storage

import (
	"context"
	"fmt"

	"vos/internal/models"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) CreateDocument(ctx context.Context, d models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (id, title, description, content, content_hash, line_count, is_archived, created_at, updated_at)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, $8, $8)`,
		d.ID, d.Title, d.Description, d.Content, d.ContentHash, d.LineCount, d.IsArchived, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", pgErr(err))
	}
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var d models.Document
	err := r.db.Pool.QueryRow(ctx, `
SELECT d.id, d.title, COALESCE(d.description,''), d.content, d.content_hash, d.line_count, d.is_archived,
       (SELECT COUNT(*) FROM reviews rv WHERE rv.document_id = d.id), d.created_at, d.updated_at
FROM documents d
WHERE d.id=$1`, id).
		Scan(&d.ID, &d.Title, &d.Description, &d.Content, &d.ContentHash, &d.LineCount, &d.IsArchived, &d.ReviewCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", pgErr(err))
	}
	return d, nil
}

func (r *DocumentRepo) ListDocuments(ctx context.Context, includeArchived bool) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT d.id, d.title, COALESCE(d.description,''), d.content_hash, d.line_count, d.is_archived,
       (SELECT COUNT(*) FROM reviews rv WHERE rv.document_id = d.id), d.created_at, d.updated_at
FROM documents d
WHERE $1 OR NOT d.is_archived
ORDER BY d.updated_at DESC`, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Description, &d.ContentHash, &d.LineCount, &d.IsArchived, &d.ReviewCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) SetDocumentArchived(ctx context.Context, id string, archived bool) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE documents SET is_archived=$2, updated_at=NOW() WHERE id=$1`, id, archived)
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archive document: %w", ErrNotFound)
	}
	return nil
}

func (r *DocumentRepo) DeleteDocument(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete document: %w", ErrNotFound)
	}
	return nil
}
