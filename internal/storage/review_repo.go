package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"vos/internal/models"
)

type ReviewRepo struct {
	db *DB
}

func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

const reviewColumns = `
SELECT rv.id, rv.document_id, rv.persona_ids, rv.status, rv.persona_statuses, COALESCE(rv.error,''),
       (SELECT COUNT(*) FROM comments c WHERE c.review_id = rv.id), rv.created_at, rv.completed_at, rv.synthesized_at
FROM reviews rv`

func (r *ReviewRepo) CreateReview(ctx context.Context, rv models.Review) error {
	personaJSON, _ := json.Marshal(rv.PersonaIDs)
	statusJSON, _ := json.Marshal(rv.PersonaStatuses)
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO reviews (id, document_id, persona_ids, status, persona_statuses, created_at)
VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6)`,
		rv.ID, rv.DocumentID, string(personaJSON), string(rv.Status), string(statusJSON), rv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", pgErr(err))
	}
	return nil
}

func (r *ReviewRepo) UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE reviews SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update review status: %w", ErrNotFound)
	}
	return nil
}

func (r *ReviewRepo) CompleteReview(ctx context.Context, id string, status models.ReviewStatus, personaStatuses map[string]models.PersonaStatus, errMsg string) error {
	statusJSON, _ := json.Marshal(personaStatuses)
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE reviews SET status=$2, persona_statuses=$3::jsonb, error=NULLIF($4,''), completed_at=NOW()
WHERE id=$1`, id, string(status), string(statusJSON), errMsg)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete review: %w", ErrNotFound)
	}
	return nil
}

func (r *ReviewRepo) GetReview(ctx context.Context, id string) (models.Review, error) {
	rv, err := scanReview(r.db.Pool.QueryRow(ctx, reviewColumns+` WHERE rv.id=$1`, id))
	if err != nil {
		return models.Review{}, fmt.Errorf("get review: %w", pgErr(err))
	}
	return rv, nil
}

func (r *ReviewRepo) LatestReview(ctx context.Context, documentID string) (models.Review, error) {
	rv, err := scanReview(r.db.Pool.QueryRow(ctx, reviewColumns+` WHERE rv.document_id=$1 ORDER BY rv.created_at DESC, rv.id DESC LIMIT 1`, documentID))
	if err != nil {
		return models.Review{}, fmt.Errorf("latest review: %w", pgErr(err))
	}
	return rv, nil
}

func (r *ReviewRepo) ListReviews(ctx context.Context, documentID string) ([]models.Review, error) {
	rows, err := r.db.Pool.Query(ctx, reviewColumns+` WHERE rv.document_id=$1 ORDER BY rv.created_at DESC, rv.id DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	out := make([]models.Review, 0)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (models.Review, error) {
	var (
		rv           models.Review
		status       string
		personaJSON  []byte
		statusesJSON []byte
	)
	if err := row.Scan(&rv.ID, &rv.DocumentID, &personaJSON, &status, &statusesJSON, &rv.Error, &rv.TotalComments, &rv.CreatedAt, &rv.CompletedAt, &rv.SynthesizedAt); err != nil {
		return models.Review{}, err
	}
	rv.Status = models.ReviewStatus(status)
	if err := decodeReviewJSON(&rv, personaJSON, statusesJSON); err != nil {
		return models.Review{}, err
	}
	return rv, nil
}

func decodeReviewJSON(rv *models.Review, personaJSON, statusesJSON []byte) error {
	if err := json.Unmarshal(personaJSON, &rv.PersonaIDs); err != nil {
		return fmt.Errorf("decode persona ids: %w", err)
	}
	rv.PersonaStatuses = map[string]models.PersonaStatus{}
	if len(statusesJSON) > 0 {
		if err := json.Unmarshal(statusesJSON, &rv.PersonaStatuses); err != nil {
			return fmt.Errorf("decode persona statuses: %w", err)
		}
	}
	return nil
}
