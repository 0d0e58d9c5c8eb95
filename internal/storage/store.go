package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vos/internal/config"
	"vos/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an insert collides with an existing id.
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the persistence boundary shared by the Postgres, SQLite and
// in-memory backends.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	CreateDocument(ctx context.Context, d models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, error)
	// ListDocuments omits document content.
	ListDocuments(ctx context.Context, includeArchived bool) ([]models.Document, error)
	SetDocumentArchived(ctx context.Context, id string, archived bool) error
	// DeleteDocument removes the document with its reviews, comments and meta-comments.
	DeleteDocument(ctx context.Context, id string) error

	CreateReview(ctx context.Context, r models.Review) error
	UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error
	CompleteReview(ctx context.Context, id string, status models.ReviewStatus, personaStatuses map[string]models.PersonaStatus, errMsg string) error
	GetReview(ctx context.Context, id string) (models.Review, error)
	// ListReviews returns a document's reviews, newest first.
	ListReviews(ctx context.Context, documentID string) ([]models.Review, error)
	LatestReview(ctx context.Context, documentID string) (models.Review, error)

	// AppendComments persists one persona's comments atomically.
	AppendComments(ctx context.Context, comments []models.Comment) error
	// ListComments returns a review's comments ordered by line, then creation.
	ListComments(ctx context.Context, reviewID string) ([]models.Comment, error)

	// SaveMetaComments replaces a review's meta-comment set in one transaction
	// and stamps the review as synthesized, even when metas is empty.
	SaveMetaComments(ctx context.Context, reviewID string, metas []models.MetaComment) error
	// LoadMetaComments reports found=false when the review was never synthesized.
	LoadMetaComments(ctx context.Context, reviewID string) (metas []models.MetaComment, found bool, err error)

	InsertLLMCall(ctx context.Context, rec LLMCallRecord) error
}

type LLMCallRecord struct {
	CallID       string
	Operation    string
	ReviewID     string
	PersonaID    string
	ProviderName string
	Model        string
	Status       string
	ErrorType    string
	DurationMS   int64
	CreatedAt    time.Time
}

func (r LLMCallRecord) withDefaults() LLMCallRecord {
	if r.CallID == "" {
		r.CallID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = "ok"
	}
	return r
}

// Open builds the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "postgres", "postgresql", "pg":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return NewPostgresStore(db), nil
	case "sqlite", "sqlite3", "":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}
