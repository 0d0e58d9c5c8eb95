package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vos/internal/config"
	"vos/internal/models"

	"github.com/stretchr/testify/require"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "vos.db"))
	require.NoError(t, err)
	t.Cleanup(sqlite.Close)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seedDocument(t *testing.T, s Store, id string, at time.Time) models.Document {
	t.Helper()
	d := models.Document{
		ID:          id,
		Title:       "Doc " + id,
		Content:     "line 0\nline 1\nline 2\nline 3",
		ContentHash: "hash-" + id,
		LineCount:   4,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	require.NoError(t, s.CreateDocument(context.Background(), d))
	return d
}

func seedReview(t *testing.T, s Store, id, docID string, at time.Time) models.Review {
	t.Helper()
	r := models.Review{
		ID:              id,
		DocumentID:      docID,
		PersonaIDs:      []string{"devils-advocate", "casual-reader"},
		Status:          models.ReviewQueued,
		PersonaStatuses: map[string]models.PersonaStatus{"devils-advocate": models.PersonaQueued, "casual-reader": models.PersonaQueued},
		CreatedAt:       at,
	}
	require.NoError(t, s.CreateReview(context.Background(), r))
	return r
}

func comment(id, reviewID, docID string, start, end int, at time.Time) models.Comment {
	return models.Comment{
		ID:           id,
		DocumentID:   docID,
		ReviewID:     reviewID,
		PersonaID:    "devils-advocate",
		PersonaName:  "Devil's Advocate",
		PersonaColor: "#ef4444",
		Content:      "note " + id,
		StartLine:    start,
		EndLine:      end,
		CreatedAt:    at,
	}
}

func TestStoreDocuments(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocument(t, s, "d1", base)
			seedDocument(t, s, "d2", base.Add(time.Minute))

			err := s.CreateDocument(ctx, models.Document{ID: "d1", Title: "dup", Content: "x", CreatedAt: base})
			require.ErrorIs(t, err, ErrAlreadyExists)

			got, err := s.GetDocument(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, "Doc d1", got.Title)
			require.Equal(t, 4, got.LineCount)
			require.Contains(t, got.Content, "line 3")

			list, err := s.ListDocuments(ctx, false)
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "d2", list[0].ID)
			require.Empty(t, list[0].Content)

			require.NoError(t, s.SetDocumentArchived(ctx, "d2", true))
			list, err = s.ListDocuments(ctx, false)
			require.NoError(t, err)
			require.Len(t, list, 1)
			list, err = s.ListDocuments(ctx, true)
			require.NoError(t, err)
			require.Len(t, list, 2)

			_, err = s.GetDocument(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.SetDocumentArchived(ctx, "missing", true), ErrNotFound)
		})
	}
}

func TestStoreReviewLifecycle(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocument(t, s, "d1", base)
			seedReview(t, s, "r1", "d1", base)
			seedReview(t, s, "r2", "d1", base.Add(time.Second))

			require.ErrorIs(t, s.CreateReview(ctx, models.Review{ID: "r3", DocumentID: "nope", CreatedAt: base}), ErrNotFound)

			require.NoError(t, s.UpdateReviewStatus(ctx, "r1", models.ReviewRunning))
			statuses := map[string]models.PersonaStatus{
				"devils-advocate": models.PersonaCompleted,
				"casual-reader":   models.PersonaFailed,
			}
			require.NoError(t, s.CompleteReview(ctx, "r1", models.ReviewCompleted, statuses, ""))

			got, err := s.GetReview(ctx, "r1")
			require.NoError(t, err)
			require.Equal(t, models.ReviewCompleted, got.Status)
			require.Equal(t, []string{"devils-advocate", "casual-reader"}, got.PersonaIDs)
			require.Equal(t, models.PersonaFailed, got.PersonaStatuses["casual-reader"])
			require.NotNil(t, got.CompletedAt)
			require.Nil(t, got.SynthesizedAt)

			latest, err := s.LatestReview(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, "r2", latest.ID)

			list, err := s.ListReviews(ctx, "d1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "r2", list[0].ID)

			doc, err := s.GetDocument(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, 2, doc.ReviewCount)

			_, err = s.LatestReview(ctx, "other")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCommentsOrderedByLine(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocument(t, s, "d1", base)
			seedReview(t, s, "r1", "d1", base)

			require.NoError(t, s.AppendComments(ctx, []models.Comment{
				comment("c1", "r1", "d1", 3, 3, base),
				comment("c2", "r1", "d1", 0, 1, base),
			}))
			require.NoError(t, s.AppendComments(ctx, []models.Comment{
				comment("c3", "r1", "d1", 0, 0, base),
				comment("c4", "r1", "d1", 3, 3, base),
			}))
			require.NoError(t, s.AppendComments(ctx, nil))

			list, err := s.ListComments(ctx, "r1")
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, c := range list {
				ids = append(ids, c.ID)
			}
			require.Equal(t, []string{"c3", "c2", "c1", "c4"}, ids)

			rv, err := s.GetReview(ctx, "r1")
			require.NoError(t, err)
			require.Equal(t, 4, rv.TotalComments)

			err = s.AppendComments(ctx, []models.Comment{comment("c1", "r1", "d1", 0, 0, base)})
			require.ErrorIs(t, err, ErrAlreadyExists)

			empty, err := s.ListComments(ctx, "unknown")
			require.NoError(t, err)
			require.Empty(t, empty)
		})
	}
}

func TestStoreMetaCommentsWriteOnce(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocument(t, s, "d1", base)
			seedReview(t, s, "r1", "d1", base)

			_, found, err := s.LoadMetaComments(ctx, "r1")
			require.NoError(t, err)
			require.False(t, found)

			metas := []models.MetaComment{
				{
					ID: "m2", ReviewID: "r1", Content: "second", StartLine: 4, EndLine: 5,
					Category: models.CategoryStructure, Priority: models.PriorityLow, CreatedAt: base,
					Sources: []models.MetaSource{{CommentID: "c9", PersonaID: "casual-reader", PersonaName: "Casual Reader", PersonaColor: "#eab308", OriginalContent: "hm"}},
				},
				{
					ID: "m1", ReviewID: "r1", Content: "first", StartLine: 0, EndLine: 1,
					Category: models.CategoryClarity, Priority: models.PriorityHigh, CreatedAt: base,
					Sources: []models.MetaSource{{CommentID: "c1", PersonaID: "devils-advocate"}, {CommentID: "c2", PersonaID: "casual-reader"}},
				},
			}
			require.NoError(t, s.SaveMetaComments(ctx, "r1", metas))

			got, found, err := s.LoadMetaComments(ctx, "r1")
			require.NoError(t, err)
			require.True(t, found)
			require.Len(t, got, 2)
			require.Equal(t, "m2", got[0].ID)
			require.Equal(t, "hm", got[0].Sources[0].OriginalContent)
			require.Len(t, got[1].Sources, 2)
			require.Equal(t, models.PriorityHigh, got[1].Priority)

			rv, err := s.GetReview(ctx, "r1")
			require.NoError(t, err)
			require.NotNil(t, rv.SynthesizedAt)

			seedReview(t, s, "r2", "d1", base)
			require.NoError(t, s.SaveMetaComments(ctx, "r2", nil))
			got, found, err = s.LoadMetaComments(ctx, "r2")
			require.NoError(t, err)
			require.True(t, found)
			require.Empty(t, got)

			require.ErrorIs(t, s.SaveMetaComments(ctx, "missing", nil), ErrNotFound)
		})
	}
}

func TestStoreDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocument(t, s, "d1", base)
			seedReview(t, s, "r1", "d1", base)
			require.NoError(t, s.AppendComments(ctx, []models.Comment{comment("c1", "r1", "d1", 0, 0, base)}))
			require.NoError(t, s.SaveMetaComments(ctx, "r1", []models.MetaComment{{ID: "m1", ReviewID: "r1", Content: "x", Category: models.CategoryClarity, Priority: models.PriorityMedium, CreatedAt: base}}))

			require.NoError(t, s.DeleteDocument(ctx, "d1"))
			_, err := s.GetReview(ctx, "r1")
			require.ErrorIs(t, err, ErrNotFound)
			list, err := s.ListComments(ctx, "r1")
			require.NoError(t, err)
			require.Empty(t, list)
			require.ErrorIs(t, s.DeleteDocument(ctx, "d1"), ErrNotFound)
		})
	}
}

func TestStoreLLMAudit(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.InsertLLMCall(ctx, LLMCallRecord{Operation: "persona_review", ProviderName: "mock"}))
			require.NoError(t, s.InsertLLMCall(ctx, LLMCallRecord{Operation: "meta_synthesis", ProviderName: "mock", Status: "error", ErrorType: "transient"}))
		})
	}
	mem := NewMemoryStore()
	require.NoError(t, mem.InsertLLMCall(ctx, LLMCallRecord{Operation: "persona_review", ProviderName: "mock"}))
	calls := mem.LLMCalls()
	require.Len(t, calls, 1)
	require.NotEmpty(t, calls[0].CallID)
	require.Equal(t, "ok", calls[0].Status)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig("memory", ""))
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	require.True(t, ok)

	s, err = Open(ctx, testConfig("sqlite", filepath.Join(t.TempDir(), "nested", "vos.db")))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	_, err = Open(ctx, testConfig("cassandra", ""))
	require.Error(t, err)
}

func testConfig(driver, path string) config.Config {
	return config.Config{StoreDriver: driver, SQLitePath: path}
}
