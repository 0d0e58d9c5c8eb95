package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vos/internal/metrics"
	"vos/internal/models"
	"vos/internal/personas"
	"vos/internal/storage"
	"vos/internal/util"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reviewer produces one persona's comments for a document.
type Reviewer interface {
	Review(ctx context.Context, persona models.Persona, reviewID string, lines []string) ([]Draft, error)
}

type Options struct {
	// PersonaTimeout bounds each persona call; zero means no bound.
	PersonaTimeout time.Duration
	// MaxConcurrent caps parallel persona calls; zero means unlimited.
	MaxConcurrent int
	EventBuffer   int
}

// Orchestrator fans a review out across personas and streams the results.
type Orchestrator struct {
	store    storage.Store
	registry *personas.Registry
	reviewer Reviewer
	log      zerolog.Logger
	opts     Options

	runs sync.WaitGroup
}

func NewOrchestrator(store storage.Store, registry *personas.Registry, reviewer Reviewer, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Orchestrator{store: store, registry: registry, reviewer: reviewer, log: log, opts: opts}
}

// Plan is a validated, persisted review that has not run yet.
type Plan struct {
	Review   models.Review
	Document models.Document
	Personas []models.Persona
}

// Outcome summarizes a finished review.
type Outcome struct {
	ReviewID        string
	Status          models.ReviewStatus
	TotalComments   int
	PersonaStatuses map[string]models.PersonaStatus
	Err             error
}

// Prepare validates the request and creates the queued review.
func (o *Orchestrator) Prepare(ctx context.Context, documentID string, personaIDs []string) (Plan, error) {
	ids := dedupe(personaIDs)
	if len(ids) == 0 {
		return Plan{}, ErrNoPersonas
	}
	selected := make([]models.Persona, 0, len(ids))
	for _, id := range ids {
		p, ok := o.registry.Get(id)
		if !ok {
			return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
		}
		selected = append(selected, p)
	}
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return Plan{}, err
	}
	if doc.IsArchived {
		return Plan{}, fmt.Errorf("review document %s: %w", documentID, ErrDocumentArchived)
	}

	statuses := make(map[string]models.PersonaStatus, len(ids))
	for _, id := range ids {
		statuses[id] = models.PersonaQueued
	}
	rv := models.Review{
		ID:              ulid.Make().String(),
		DocumentID:      documentID,
		PersonaIDs:      ids,
		Status:          models.ReviewQueued,
		PersonaStatuses: statuses,
		CreatedAt:       time.Now().UTC(),
	}
	if err := o.store.CreateReview(ctx, rv); err != nil {
		return Plan{}, err
	}
	return Plan{Review: rv, Document: doc, Personas: selected}, nil
}

// Start prepares a review and runs it in the background. The run is detached
// from ctx: cancelling ctx does not stop it, Run.Cancel does.
func (o *Orchestrator) Start(ctx context.Context, documentID string, personaIDs []string) (*Run, error) {
	plan, err := o.Prepare(ctx, documentID, personaIDs)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := newRun(plan.Review.ID, o.opts.EventBuffer, cancel)
	metrics.ReviewsStarted.WithLabelValues("stream").Inc()

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer cancel()
		out := o.Execute(runCtx, plan, run.emit)
		run.finish(out)
	}()
	return run, nil
}

// Wait blocks until every background run has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs every persona of plan concurrently, emitting events as they
// happen. It returns after the terminal done event.
func (o *Orchestrator) Execute(ctx context.Context, plan Plan, emit func(Event)) Outcome {
	rv := plan.Review
	log := o.log.With().Str("review_id", rv.ID).Str("document_id", rv.DocumentID).Logger()
	metrics.ReviewsInFlight.Inc()
	defer metrics.ReviewsInFlight.Dec()

	for _, p := range plan.Personas {
		emit(personaStatusEvent(p, models.PersonaQueued, nil))
	}
	if err := o.store.UpdateReviewStatus(ctx, rv.ID, models.ReviewRunning); err != nil {
		log.Warn().Err(err).Msg("mark review running")
	}
	log.Info().Int("personas", len(plan.Personas)).Msg("review started")

	lines := util.SplitLines(plan.Document.Content)
	var (
		mu       sync.Mutex
		statuses = make(map[string]models.PersonaStatus, len(plan.Personas))
		failures []string
		total    int
	)
	var g errgroup.Group
	if o.opts.MaxConcurrent > 0 {
		g.SetLimit(o.opts.MaxConcurrent)
	}
	for _, p := range plan.Personas {
		p := p
		g.Go(func() error {
			emit(personaStatusEvent(p, models.PersonaRunning, nil))
			comments, err := o.ReviewPersona(ctx, rv.ID, rv.DocumentID, lines, p)
			if err != nil {
				log.Warn().Err(err).Str("persona_id", p.ID).Msg("persona review failed")
				mu.Lock()
				statuses[p.ID] = models.PersonaFailed
				failures = append(failures, err.Error())
				mu.Unlock()
				emit(personaStatusEvent(p, models.PersonaFailed, err))
				return nil
			}
			for _, c := range comments {
				emit(commentEvent(c))
			}
			metrics.CommentsEmitted.Add(float64(len(comments)))
			mu.Lock()
			statuses[p.ID] = models.PersonaCompleted
			total += len(comments)
			mu.Unlock()
			emit(personaStatusEvent(p, models.PersonaCompleted, nil))
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{ReviewID: rv.ID, TotalComments: total, PersonaStatuses: statuses, Status: models.ReviewFailed}
	for _, s := range statuses {
		if s == models.PersonaCompleted {
			out.Status = models.ReviewCompleted
			break
		}
	}
	errMsg := ""
	if out.Status == models.ReviewFailed {
		out.Err = ErrAllPersonasFailed
		errMsg = ErrAllPersonasFailed.Error()
	}
	if err := o.Finish(ctx, rv.ID, out.Status, statuses, errMsg); err != nil {
		log.Error().Err(err).Msg("complete review")
	}
	if out.Err != nil {
		sort.Strings(failures)
		emit(Event{Type: EventError, ReviewID: rv.ID, Error: out.Err.Error(), Detail: strings.Join(failures, "; ")})
	}
	emit(doneEvent(rv.ID, total, out.Status))
	metrics.ReviewsFinished.WithLabelValues(string(out.Status)).Inc()
	log.Info().Str("status", string(out.Status)).Int("total_comments", total).Msg("review finished")
	return out
}

// ReviewPersona runs one persona against the document lines and persists the
// resulting comments in one batch. Comments come back in the order the
// persona produced them.
func (o *Orchestrator) ReviewPersona(ctx context.Context, reviewID, documentID string, lines []string, p models.Persona) ([]models.Comment, error) {
	callCtx := ctx
	if o.opts.PersonaTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.PersonaTimeout)
		defer cancel()
	}
	start := time.Now()
	drafts, err := o.reviewer.Review(callCtx, p, reviewID, lines)
	metrics.PersonaCallDuration.WithLabelValues(p.ID).Observe(time.Since(start).Seconds())
	if err == nil {
		err = callCtx.Err()
	}
	if err != nil {
		metrics.PersonaCalls.WithLabelValues(p.ID, "failed").Inc()
		var pce *PersonaCallError
		if errors.As(err, &pce) {
			return nil, err
		}
		return nil, &PersonaCallError{PersonaID: p.ID, Err: err}
	}

	now := time.Now().UTC()
	comments := make([]models.Comment, 0, len(drafts))
	for _, d := range drafts {
		comments = append(comments, models.Comment{
			ID:           uuid.NewString(),
			DocumentID:   documentID,
			ReviewID:     reviewID,
			PersonaID:    p.ID,
			PersonaName:  p.Name,
			PersonaColor: p.Color,
			Content:      d.Content,
			StartLine:    d.StartLine,
			EndLine:      d.EndLine,
			CreatedAt:    now,
		})
	}
	if err := o.store.AppendComments(context.WithoutCancel(ctx), comments); err != nil {
		metrics.PersonaCalls.WithLabelValues(p.ID, "failed").Inc()
		return nil, &PersonaCallError{PersonaID: p.ID, Err: fmt.Errorf("persist comments: %w", err)}
	}
	metrics.PersonaCalls.WithLabelValues(p.ID, "completed").Inc()
	return comments, nil
}

// Finish records the terminal review state. It runs detached from ctx so a
// cancelled run still lands its final status.
func (o *Orchestrator) Finish(ctx context.Context, reviewID string, status models.ReviewStatus, statuses map[string]models.PersonaStatus, errMsg string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return o.store.CompleteReview(ctx, reviewID, status, statuses, errMsg)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
