package models

import (
	"strings"
	"time"
)

type Tone string

const (
	ToneCritical   Tone = "critical"
	ToneSupportive Tone = "supportive"
	ToneTechnical  Tone = "technical"
	ToneNeutral    Tone = "neutral"
)

type Persona struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	Tone         Tone     `json:"tone" yaml:"tone"`
	FocusAreas   []string `json:"focus_areas" yaml:"focus_areas"`
	Color        string   `json:"color" yaml:"color"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
}

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"content_hash"`
	LineCount   int       `json:"line_count"`
	IsArchived  bool      `json:"is_archived"`
	ReviewCount int       `json:"review_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ReviewStatus string

const (
	ReviewQueued    ReviewStatus = "queued"
	ReviewRunning   ReviewStatus = "running"
	ReviewCompleted ReviewStatus = "completed"
	ReviewFailed    ReviewStatus = "failed"
)

type PersonaStatus string

const (
	PersonaQueued    PersonaStatus = "queued"
	PersonaRunning   PersonaStatus = "running"
	PersonaCompleted PersonaStatus = "completed"
	PersonaFailed    PersonaStatus = "failed"
)

func (s PersonaStatus) Terminal() bool {
	return s == PersonaCompleted || s == PersonaFailed
}

type Review struct {
	ID              string                   `json:"id"`
	DocumentID      string                   `json:"document_id"`
	PersonaIDs      []string                 `json:"persona_ids"`
	Status          ReviewStatus             `json:"status"`
	PersonaStatuses map[string]PersonaStatus `json:"persona_statuses"`
	Error           string                   `json:"error,omitempty"`
	TotalComments   int                      `json:"total_comments"`
	CreatedAt       time.Time                `json:"created_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	SynthesizedAt   *time.Time               `json:"synthesized_at,omitempty"`
}

type Comment struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	ReviewID     string    `json:"review_id"`
	PersonaID    string    `json:"persona_id"`
	PersonaName  string    `json:"persona_name"`
	PersonaColor string    `json:"persona_color"`
	Content      string    `json:"content"`
	StartLine    int       `json:"start_line"`
	EndLine      int       `json:"end_line"`
	CreatedAt    time.Time `json:"created_at"`
}

type Category string

const (
	CategoryStructure     Category = "structure"
	CategoryClarity       Category = "clarity"
	CategoryTechnical     Category = "technical"
	CategorySecurity      Category = "security"
	CategoryAccessibility Category = "accessibility"
)

// NormalizeCategory maps free-form model output onto the closed set,
// defaulting to clarity.
func NormalizeCategory(raw string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryStructure, CategoryClarity, CategoryTechnical, CategorySecurity, CategoryAccessibility:
		return c
	default:
		return CategoryClarity
	}
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// NormalizePriority maps free-form model output onto the closed set,
// defaulting to medium.
func NormalizePriority(raw string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p
	default:
		return PriorityMedium
	}
}

type MetaSource struct {
	CommentID       string `json:"comment_id"`
	PersonaID       string `json:"persona_id"`
	PersonaName     string `json:"persona_name"`
	PersonaColor    string `json:"persona_color"`
	OriginalContent string `json:"original_content"`
}

type MetaComment struct {
	ID        string       `json:"id"`
	ReviewID  string       `json:"review_id"`
	Content   string       `json:"content"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	Category  Category     `json:"category"`
	Priority  Priority     `json:"priority"`
	Sources   []MetaSource `json:"sources"`
	CreatedAt time.Time    `json:"created_at"`
}
