package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vos/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// zero-dependency development runs.
type MemoryStore struct {
	mu         sync.RWMutex
	documents  map[string]models.Document
	reviews    map[string]models.Review
	comments   map[string][]models.Comment // by review id
	commentIDs map[string]struct{}
	metas      map[string][]models.MetaComment // by review id
	llmCalls   []LLMCallRecord
	commentSeq map[string]int // insertion order, for stable ordering
	nextSeq    int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:  map[string]models.Document{},
		reviews:    map[string]models.Review{},
		comments:   map[string][]models.Comment{},
		commentIDs: map[string]struct{}{},
		metas:      map[string][]models.MetaComment{},
		commentSeq: map[string]int{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateDocument(ctx context.Context, d models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[d.ID]; ok {
		return fmt.Errorf("create document: %w", ErrAlreadyExists)
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	d.ReviewCount = 0
	s.documents[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("get document: %w", ErrNotFound)
	}
	d.ReviewCount = s.reviewCountLocked(id)
	return d, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, includeArchived bool) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		if d.IsArchived && !includeArchived {
			continue
		}
		d.Content = ""
		d.ReviewCount = s.reviewCountLocked(d.ID)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetDocumentArchived(ctx context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("archive document: %w", ErrNotFound)
	}
	d.IsArchived = archived
	d.UpdatedAt = time.Now().UTC()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("delete document: %w", ErrNotFound)
	}
	delete(s.documents, id)
	for rid, rv := range s.reviews {
		if rv.DocumentID != id {
			continue
		}
		for _, c := range s.comments[rid] {
			delete(s.commentIDs, c.ID)
			delete(s.commentSeq, c.ID)
		}
		delete(s.comments, rid)
		delete(s.metas, rid)
		delete(s.reviews, rid)
	}
	return nil
}

func (s *MemoryStore) CreateReview(ctx context.Context, r models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[r.DocumentID]; !ok {
		return fmt.Errorf("create review: %w", ErrNotFound)
	}
	if _, ok := s.reviews[r.ID]; ok {
		return fmt.Errorf("create review: %w", ErrAlreadyExists)
	}
	s.reviews[r.ID] = cloneReview(r)
	return nil
}

func (s *MemoryStore) UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return fmt.Errorf("update review status: %w", ErrNotFound)
	}
	r.Status = status
	s.reviews[id] = r
	return nil
}

func (s *MemoryStore) CompleteReview(ctx context.Context, id string, status models.ReviewStatus, personaStatuses map[string]models.PersonaStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return fmt.Errorf("complete review: %w", ErrNotFound)
	}
	now := time.Now().UTC()
	r.Status = status
	r.Error = errMsg
	r.CompletedAt = &now
	r.PersonaStatuses = make(map[string]models.PersonaStatus, len(personaStatuses))
	for k, v := range personaStatuses {
		r.PersonaStatuses[k] = v
	}
	s.reviews[id] = r
	return nil
}

func (s *MemoryStore) GetReview(ctx context.Context, id string) (models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return models.Review{}, fmt.Errorf("get review: %w", ErrNotFound)
	}
	return s.hydrateLocked(r), nil
}

func (s *MemoryStore) ListReviews(ctx context.Context, documentID string) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Review, 0)
	for _, r := range s.reviews {
		if r.DocumentID == documentID {
			out = append(out, s.hydrateLocked(r))
		}
	}
	sortReviewsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) LatestReview(ctx context.Context, documentID string) (models.Review, error) {
	list, err := s.ListReviews(ctx, documentID)
	if err != nil {
		return models.Review{}, err
	}
	if len(list) == 0 {
		return models.Review{}, fmt.Errorf("latest review: %w", ErrNotFound)
	}
	return list[0], nil
}

func (s *MemoryStore) AppendComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range comments {
		if _, ok := s.reviews[c.ReviewID]; !ok {
			return fmt.Errorf("insert comment %s: %w", c.ID, ErrNotFound)
		}
		if _, dup := s.commentIDs[c.ID]; dup {
			return fmt.Errorf("insert comment %s: %w", c.ID, ErrAlreadyExists)
		}
	}
	for _, c := range comments {
		s.comments[c.ReviewID] = append(s.comments[c.ReviewID], c)
		s.commentIDs[c.ID] = struct{}{}
		s.commentSeq[c.ID] = s.nextSeq
		s.nextSeq++
	}
	return nil
}

func (s *MemoryStore) ListComments(ctx context.Context, reviewID string) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.Comment(nil), s.comments[reviewID]...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return s.commentSeq[a.ID] < s.commentSeq[b.ID]
	})
	if out == nil {
		out = []models.Comment{}
	}
	return out, nil
}

func (s *MemoryStore) SaveMetaComments(ctx context.Context, reviewID string, metas []models.MetaComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return fmt.Errorf("stamp review synthesized: %w", ErrNotFound)
	}
	now := time.Now().UTC()
	r.SynthesizedAt = &now
	s.reviews[reviewID] = r
	s.metas[reviewID] = cloneMetas(metas)
	return nil
}

func (s *MemoryStore) LoadMetaComments(ctx context.Context, reviewID string) ([]models.MetaComment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, false, fmt.Errorf("load meta comments: %w", ErrNotFound)
	}
	if r.SynthesizedAt == nil {
		return nil, false, nil
	}
	return cloneMetas(s.metas[reviewID]), true, nil
}

func (s *MemoryStore) InsertLLMCall(ctx context.Context, rec LLMCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCalls = append(s.llmCalls, rec.withDefaults())
	return nil
}

// LLMCalls returns a snapshot of the audit log.
func (s *MemoryStore) LLMCalls() []LLMCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LLMCallRecord(nil), s.llmCalls...)
}

func (s *MemoryStore) reviewCountLocked(documentID string) int {
	n := 0
	for _, r := range s.reviews {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) hydrateLocked(r models.Review) models.Review {
	r = cloneReview(r)
	r.TotalComments = len(s.comments[r.ID])
	return r
}

func cloneReview(r models.Review) models.Review {
	r.PersonaIDs = append([]string(nil), r.PersonaIDs...)
	statuses := make(map[string]models.PersonaStatus, len(r.PersonaStatuses))
	for k, v := range r.PersonaStatuses {
		statuses[k] = v
	}
	r.PersonaStatuses = statuses
	return r
}

func cloneMetas(in []models.MetaComment) []models.MetaComment {
	out := make([]models.MetaComment, len(in))
	for i, m := range in {
		m.Sources = append([]models.MetaSource(nil), m.Sources...)
		out[i] = m
	}
	return out
}

func sortReviewsNewestFirst(list []models.Review) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
