package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vos/internal/models"
	"vos/internal/personas"
	"vos/internal/providers"
	"vos/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type reviewFunc func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error)

type stubReviewer struct {
	fn reviewFunc
}

func (s stubReviewer) Review(ctx context.Context, p models.Persona, reviewID string, lines []string) ([]Draft, error) {
	return s.fn(ctx, p, lines)
}

const eightLineDoc = "# Title\n\nintro line\nmore intro\n\nbody one\nbody two\nend"

func newTestOrchestrator(t *testing.T, reg *personas.Registry, fn reviewFunc, opts Options) (*Orchestrator, *storage.MemoryStore) {
	t.Helper()
	if reg == nil {
		var err error
		reg, err = personas.Default()
		require.NoError(t, err)
	}
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(context.Background(), models.Document{
		ID:        "doc-1",
		Title:     "Title",
		Content:   eightLineDoc,
		LineCount: 8,
		CreatedAt: time.Now().UTC(),
	}))
	return NewOrchestrator(store, reg, stubReviewer{fn: fn}, zerolog.Nop(), opts), store
}

func collect(t *testing.T, run *Run) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("review stream did not close; got %d events", len(out))
		}
	}
}

func statusSequences(events []Event) map[string][]string {
	seq := map[string][]string{}
	for _, ev := range events {
		if ev.Type == EventPersonaStatus {
			seq[ev.PersonaID] = append(seq[ev.PersonaID], ev.Status)
		}
	}
	return seq
}

func oneComment(line int) reviewFunc {
	return func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		return []Draft{{Content: p.ID + " says hi", StartLine: line, EndLine: line}}, nil
	}
}

func TestExecutePartialFailure(t *testing.T) {
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		if p.ID == "devils-advocate" {
			return nil, errors.New("provider exploded")
		}
		return []Draft{
			{Content: p.ID + " first", StartLine: 5, EndLine: 6},
			{Content: p.ID + " second", StartLine: 0, EndLine: 0},
		}, nil
	}
	o, store := newTestOrchestrator(t, nil, fn, Options{})
	ids := []string{"devils-advocate", "supportive-editor", "technical-critic"}

	run, err := o.Start(context.Background(), "doc-1", ids)
	require.NoError(t, err)
	events := collect(t, run)

	seq := statusSequences(events)
	require.Len(t, seq, 3)
	require.Equal(t, []string{"queued", "running", "failed"}, seq["devils-advocate"])
	require.Equal(t, []string{"queued", "running", "completed"}, seq["supportive-editor"])
	require.Equal(t, []string{"queued", "running", "completed"}, seq["technical-critic"])

	// Every queued event precedes every running event.
	for i := 0; i < 3; i++ {
		require.Equal(t, "queued", events[i].Status)
	}

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.Equal(t, run.ReviewID, last.ReviewID)
	require.Equal(t, 4, *last.TotalComments)
	require.Equal(t, "completed", last.Status)
	doneCount := 0
	byPersona := map[string][]string{}
	for _, ev := range events {
		switch ev.Type {
		case EventDone:
			doneCount++
		case EventError:
			t.Fatalf("unexpected error event: %+v", ev)
		case EventComment:
			byPersona[ev.Comment.PersonaID] = append(byPersona[ev.Comment.PersonaID], ev.Comment.Content)
		}
	}
	require.Equal(t, 1, doneCount)
	require.NotContains(t, byPersona, "devils-advocate")
	require.Equal(t, []string{"technical-critic first", "technical-critic second"}, byPersona["technical-critic"])

	rv, err := store.GetReview(context.Background(), run.ReviewID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewCompleted, rv.Status)
	require.Equal(t, models.PersonaFailed, rv.PersonaStatuses["devils-advocate"])
	require.Equal(t, 4, rv.TotalComments)
	require.NotNil(t, rv.CompletedAt)

	out := run.Outcome()
	require.NoError(t, out.Err)
	require.Equal(t, models.ReviewCompleted, out.Status)
}

func TestExecuteAllPersonasFail(t *testing.T) {
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		return nil, fmt.Errorf("%s: %w", p.ID, ErrUnparsableResponse)
	}
	o, store := newTestOrchestrator(t, nil, fn, Options{})
	run, err := o.Start(context.Background(), "doc-1", []string{"casual-reader", "technical-critic"})
	require.NoError(t, err)
	events := collect(t, run)

	require.Equal(t, EventError, events[len(events)-2].Type)
	require.Equal(t, ErrAllPersonasFailed.Error(), events[len(events)-2].Error)
	require.Contains(t, events[len(events)-2].Detail, "casual-reader")
	done := events[len(events)-1]
	require.Equal(t, EventDone, done.Type)
	require.Equal(t, 0, *done.TotalComments)
	require.Equal(t, "failed", done.Status)

	rv, err := store.GetReview(context.Background(), run.ReviewID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewFailed, rv.Status)
	require.Equal(t, ErrAllPersonasFailed.Error(), rv.Error)
	comments, err := store.ListComments(context.Background(), run.ReviewID)
	require.NoError(t, err)
	require.Empty(t, comments)
	require.ErrorIs(t, run.Outcome().Err, ErrAllPersonasFailed)
}

func TestExecuteRunsPersonasConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(4)
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		wg.Done()
		// Returns only once all four calls are in flight at the same time.
		waited := make(chan struct{})
		go func() { wg.Wait(); close(waited) }()
		select {
		case <-waited:
		case <-time.After(2 * time.Second):
			return nil, errors.New("personas were not called concurrently")
		}
		return []Draft{{Content: "ok", StartLine: 0, EndLine: 0}}, nil
	}
	o, _ := newTestOrchestrator(t, nil, fn, Options{})
	run, err := o.Start(context.Background(), "doc-1", []string{"devils-advocate", "supportive-editor", "technical-critic", "casual-reader"})
	require.NoError(t, err)
	collect(t, run)
	out := run.Outcome()
	require.Equal(t, models.ReviewCompleted, out.Status)
	for id, s := range out.PersonaStatuses {
		require.Equal(t, models.PersonaCompleted, s, id)
	}
}

func TestExecuteCompletionOrderInterleaves(t *testing.T) {
	release := make(chan struct{})
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		if p.ID == "devils-advocate" {
			<-release
		}
		return []Draft{{Content: p.ID, StartLine: 1, EndLine: 1}}, nil
	}
	o, _ := newTestOrchestrator(t, nil, fn, Options{})
	run, err := o.Start(context.Background(), "doc-1", []string{"devils-advocate", "casual-reader"})
	require.NoError(t, err)

	var firstCompleted string
	for ev := range run.Events() {
		if ev.Type == EventPersonaStatus && ev.Status == "completed" && firstCompleted == "" {
			firstCompleted = ev.PersonaID
			close(release)
		}
	}
	require.Equal(t, "casual-reader", firstCompleted)
}

func TestExecutePersonaTimeout(t *testing.T) {
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		if p.ID == "technical-critic" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return oneComment(2)(ctx, p, lines)
	}
	o, _ := newTestOrchestrator(t, nil, fn, Options{PersonaTimeout: 20 * time.Millisecond})
	run, err := o.Start(context.Background(), "doc-1", []string{"technical-critic", "casual-reader"})
	require.NoError(t, err)
	events := collect(t, run)

	seq := statusSequences(events)
	require.Equal(t, "failed", seq["technical-critic"][2])
	require.Equal(t, "completed", seq["casual-reader"][2])
	require.Equal(t, models.ReviewCompleted, run.Outcome().Status)
}

func TestExecuteConcurrencyLimit(t *testing.T) {
	var (
		mu           sync.Mutex
		active, peak int
	)
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}
	o, _ := newTestOrchestrator(t, nil, fn, Options{MaxConcurrent: 1})
	run, err := o.Start(context.Background(), "doc-1", []string{"devils-advocate", "supportive-editor", "technical-critic"})
	require.NoError(t, err)
	collect(t, run)
	require.Equal(t, 1, peak)
	require.Equal(t, models.ReviewCompleted, run.Outcome().Status)
}

func sevenPersonas(t *testing.T) *personas.Registry {
	t.Helper()
	list := make([]models.Persona, 0, 7)
	for i := 1; i <= 7; i++ {
		list = append(list, models.Persona{
			ID:           fmt.Sprintf("p%d", i),
			Name:         fmt.Sprintf("Persona %d", i),
			Color:        "#000000",
			SystemPrompt: "Review it.",
		})
	}
	reg, err := personas.New(list)
	require.NoError(t, err)
	return reg
}

func TestDetachKeepsReviewRunning(t *testing.T) {
	reg := sevenPersonas(t)
	release := make(chan struct{})
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		switch p.ID {
		case "p1", "p2", "p3":
		default:
			<-release
		}
		return []Draft{{Content: "from " + p.ID, StartLine: 3, EndLine: 4}}, nil
	}
	o, store := newTestOrchestrator(t, reg, fn, Options{EventBuffer: 1})
	run, err := o.Start(context.Background(), "doc-1", reg.IDs())
	require.NoError(t, err)

	completed := 0
	for ev := range run.Events() {
		if ev.Type == EventPersonaStatus && ev.Status == "completed" {
			completed++
			if completed == 3 {
				break
			}
		}
	}
	run.Detach()
	close(release)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("review did not finish after detach")
	}
	require.Equal(t, models.ReviewCompleted, run.Outcome().Status)

	latest, err := store.LatestReview(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, run.ReviewID, latest.ID)
	require.Equal(t, models.ReviewCompleted, latest.Status)
	comments, err := store.ListComments(context.Background(), run.ReviewID)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, c := range comments {
		seen[c.PersonaID] = true
	}
	require.Len(t, seen, 7)
	require.NoError(t, o.Wait(context.Background()))
}

func TestCancelFailsUnfinishedPersonas(t *testing.T) {
	fn := func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		if p.ID == "casual-reader" {
			return oneComment(0)(ctx, p, lines)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o, store := newTestOrchestrator(t, nil, fn, Options{})
	run, err := o.Start(context.Background(), "doc-1", []string{"casual-reader", "devils-advocate"})
	require.NoError(t, err)
	for ev := range run.Events() {
		if ev.Type == EventPersonaStatus && ev.PersonaID == "casual-reader" && ev.Status == "completed" {
			break
		}
	}
	run.Detach()
	run.Cancel()
	<-run.Done()

	out := run.Outcome()
	require.Equal(t, models.PersonaFailed, out.PersonaStatuses["devils-advocate"])
	require.Equal(t, models.PersonaCompleted, out.PersonaStatuses["casual-reader"])
	rv, err := store.GetReview(context.Background(), run.ReviewID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewCompleted, rv.Status)
}

func TestRequestContextDoesNotCancelRun(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, func(ctx context.Context, p models.Persona, lines []string) ([]Draft, error) {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return oneComment(1)(ctx, p, lines)
	}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	run, err := o.Start(ctx, "doc-1", []string{"casual-reader"})
	require.NoError(t, err)
	cancel()
	collect(t, run)
	require.Equal(t, models.ReviewCompleted, run.Outcome().Status)
}

func TestPrepareValidation(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t, nil, oneComment(0), Options{})

	_, err := o.Prepare(ctx, "doc-1", nil)
	require.ErrorIs(t, err, ErrNoPersonas)
	_, err = o.Prepare(ctx, "doc-1", []string{" ", ""})
	require.ErrorIs(t, err, ErrNoPersonas)
	_, err = o.Prepare(ctx, "doc-1", []string{"casual-reader", "ghost"})
	require.ErrorIs(t, err, ErrUnknownPersona)
	_, err = o.Prepare(ctx, "missing", []string{"casual-reader"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	plan, err := o.Prepare(ctx, "doc-1", []string{"casual-reader", "casual-reader", "technical-critic"})
	require.NoError(t, err)
	require.Equal(t, []string{"casual-reader", "technical-critic"}, plan.Review.PersonaIDs)
	require.Equal(t, models.ReviewQueued, plan.Review.Status)

	second, err := o.Prepare(ctx, "doc-1", []string{"casual-reader"})
	require.NoError(t, err)
	require.NotEqual(t, plan.Review.ID, second.Review.ID)

	require.NoError(t, store.SetDocumentArchived(ctx, "doc-1", true))
	_, err = o.Prepare(ctx, "doc-1", []string{"casual-reader"})
	require.ErrorIs(t, err, ErrDocumentArchived)
}

type cannedGenerator struct {
	text string
}

func (g cannedGenerator) Generate(ctx context.Context, req providers.GenerateRequest, observe func(providers.Attempt)) (providers.GenerateResponse, providers.ProviderInfo, error) {
	info := providers.ProviderInfo{Name: "canned", Model: "canned-1"}
	if observe != nil {
		observe(providers.Attempt{Ref: providers.ProviderRef{Raw: "canned", Name: "canned"}, Info: info})
	}
	return providers.GenerateResponse{Text: g.text}, info, nil
}

func TestOutOfRangeCommentNeverEmitted(t *testing.T) {
	reg, err := personas.Default()
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument(context.Background(), models.Document{ID: "doc-1", Content: eightLineDoc, CreatedAt: time.Now()}))
	client := NewClient(cannedGenerator{text: `{"comments":[{"content":"way off","start_line":15,"end_line":15},{"content":"ok","start_line":2,"end_line":2}]}`}, store, zerolog.Nop(), 0)
	o := NewOrchestrator(store, reg, client, zerolog.Nop(), Options{})

	run, err := o.Start(context.Background(), "doc-1", []string{"casual-reader"})
	require.NoError(t, err)
	var comments []models.Comment
	for _, ev := range collect(t, run) {
		if ev.Type == EventComment {
			comments = append(comments, *ev.Comment)
		}
	}
	require.Len(t, comments, 1)
	require.Equal(t, "ok", comments[0].Content)
	require.Equal(t, "Casual Reader", comments[0].PersonaName)

	calls := store.LLMCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "persona_review", calls[0].Operation)
	require.Equal(t, "casual-reader", calls[0].PersonaID)
	require.Equal(t, run.ReviewID, calls[0].ReviewID)
}

func TestClientWithMockProvider(t *testing.T) {
	reg, err := personas.Default()
	require.NoError(t, err)
	p, _ := reg.Get("devils-advocate")
	store := storage.NewMemoryStore()
	client := NewClient(providers.NewManagerWithProviders(nil, 0), store, zerolog.Nop(), 512)

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	drafts, err := client.Review(context.Background(), p, "rv-1", lines)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	require.Equal(t, 0, drafts[0].StartLine)
	require.Equal(t, 5, drafts[1].StartLine)
}

func TestClientUnparsableIsPersonaCallError(t *testing.T) {
	p := models.Persona{ID: "x", Name: "X", SystemPrompt: "s"}
	client := NewClient(cannedGenerator{text: "no idea"}, nil, zerolog.Nop(), 0)
	_, err := client.Review(context.Background(), p, "rv", []string{"a"})
	var pce *PersonaCallError
	require.ErrorAs(t, err, &pce)
	require.Equal(t, "x", pce.PersonaID)
	require.ErrorIs(t, err, ErrUnparsableResponse)
}
