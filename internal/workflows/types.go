package workflows

import "vos/internal/models"

type ReviewDocumentInput struct {
	ReviewID              string   `json:"review_id"`
	DocumentID            string   `json:"document_id"`
	PersonaIDs            []string `json:"persona_ids"`
	Synthesize            bool     `json:"synthesize"`
	PersonaTimeoutSeconds int      `json:"persona_timeout_seconds"`
}

// ReviewProgress is returned by the GetReviewProgress query.
type ReviewProgress struct {
	ReviewID        string                          `json:"review_id"`
	DocumentID      string                          `json:"document_id"`
	Status          models.ReviewStatus             `json:"status"`
	PersonaStatuses map[string]models.PersonaStatus `json:"persona_statuses"`
	PersonaErrors   map[string]string               `json:"persona_errors,omitempty"`
	TotalComments   int                             `json:"total_comments"`
	Done            int                             `json:"done"`
	Failed          int                             `json:"failed"`
	Synthesis       string                          `json:"synthesis,omitempty"`
	MetaComments    int                             `json:"meta_comments,omitempty"`
}

type ReviewDocumentResult struct {
	ReviewID      string              `json:"review_id"`
	Status        models.ReviewStatus `json:"status"`
	TotalComments int                 `json:"total_comments"`
	MetaComments  int                 `json:"meta_comments,omitempty"`
}
