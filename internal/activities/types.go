package activities

import "vos/internal/models"

type MarkReviewRunningInput struct {
	ReviewID string `json:"review_id"`
}

type PersonaReviewInput struct {
	ReviewID   string `json:"review_id"`
	DocumentID string `json:"document_id"`
	PersonaID  string `json:"persona_id"`
}

type PersonaReviewOutput struct {
	PersonaID string `json:"persona_id"`
	Comments  int    `json:"comments"`
}

type CompleteReviewInput struct {
	ReviewID        string                          `json:"review_id"`
	Status          models.ReviewStatus             `json:"status"`
	PersonaStatuses map[string]models.PersonaStatus `json:"persona_statuses"`
	Error           string                          `json:"error,omitempty"`
}

type SynthesizeReviewInput struct {
	ReviewID string `json:"review_id"`
	Force    bool   `json:"force"`
}

type SynthesizeReviewOutput struct {
	MetaComments int  `json:"meta_comments"`
	Cached       bool `json:"cached"`
	Fallback     bool `json:"fallback"`
}
