package activities

import (
	"context"
	"errors"
	"fmt"

	"vos/internal/models"
	"vos/internal/personas"
	"vos/internal/review"
	"vos/internal/storage"
	"vos/internal/synthesis"
	"vos/internal/util"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"
)

type Activities struct {
	store        storage.Store
	registry     *personas.Registry
	orchestrator *review.Orchestrator
	engine       *synthesis.Engine
	log          zerolog.Logger
}

func New(store storage.Store, registry *personas.Registry, orchestrator *review.Orchestrator, engine *synthesis.Engine, log zerolog.Logger) *Activities {
	return &Activities{store: store, registry: registry, orchestrator: orchestrator, engine: engine, log: log}
}

func (a *Activities) MarkReviewRunningActivity(ctx context.Context, in MarkReviewRunningInput) error {
	if err := a.store.UpdateReviewStatus(ctx, in.ReviewID, models.ReviewRunning); err != nil {
		return nonRetryableIfMissing(fmt.Errorf("mark review running: %w", err))
	}
	return nil
}

// PersonaReviewActivity runs one persona against the review's document and
// persists its comments. A persona error is returned so the workflow retry
// policy applies.
func (a *Activities) PersonaReviewActivity(ctx context.Context, in PersonaReviewInput) (PersonaReviewOutput, error) {
	p, ok := a.registry.Get(in.PersonaID)
	if !ok {
		return PersonaReviewOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown persona %s", in.PersonaID), "UnknownPersona", review.ErrUnknownPersona)
	}
	doc, err := a.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return PersonaReviewOutput{}, nonRetryableIfMissing(fmt.Errorf("load document: %w", err))
	}
	comments, err := a.orchestrator.ReviewPersona(ctx, in.ReviewID, in.DocumentID, util.SplitLines(doc.Content), p)
	if err != nil {
		a.log.Warn().Err(err).Str("review_id", in.ReviewID).Str("persona_id", in.PersonaID).Msg("persona activity failed")
		return PersonaReviewOutput{}, err
	}
	return PersonaReviewOutput{PersonaID: p.ID, Comments: len(comments)}, nil
}

func (a *Activities) CompleteReviewActivity(ctx context.Context, in CompleteReviewInput) error {
	if err := a.orchestrator.Finish(ctx, in.ReviewID, in.Status, in.PersonaStatuses, in.Error); err != nil {
		return nonRetryableIfMissing(fmt.Errorf("complete review: %w", err))
	}
	return nil
}

func (a *Activities) SynthesizeReviewActivity(ctx context.Context, in SynthesizeReviewInput) (SynthesizeReviewOutput, error) {
	res, err := a.engine.Synthesize(ctx, in.ReviewID, in.Force)
	if err != nil {
		if errors.Is(err, synthesis.ErrReviewNotCompleted) {
			return SynthesizeReviewOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "ReviewNotCompleted", err)
		}
		return SynthesizeReviewOutput{}, err
	}
	return SynthesizeReviewOutput{MetaComments: len(res.MetaComments), Cached: res.Cached, Fallback: res.Fallback}, nil
}

func nonRetryableIfMissing(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
	}
	return err
}
