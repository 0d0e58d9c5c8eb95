package workflows

import (
	"time"

	"vos/internal/activities"
	"vos/internal/models"
	"vos/internal/review"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetReviewProgress = "GetReviewProgress"

// WorkflowID is the deterministic workflow id for a review.
func WorkflowID(reviewID string) string {
	return "review-" + reviewID
}

// ReviewDocumentWorkflow is the durable counterpart of a streamed review:
// one activity per persona, fanned out and collected in completion order.
func ReviewDocumentWorkflow(ctx workflow.Context, input ReviewDocumentInput) (ReviewDocumentResult, error) {
	progress := ReviewProgress{
		ReviewID:        input.ReviewID,
		DocumentID:      input.DocumentID,
		Status:          models.ReviewQueued,
		PersonaStatuses: map[string]models.PersonaStatus{},
		PersonaErrors:   map[string]string{},
	}
	for _, id := range input.PersonaIDs {
		progress.PersonaStatuses[id] = models.PersonaQueued
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetReviewProgress, func() (ReviewProgress, error) {
		return progress, nil
	}); err != nil {
		return ReviewDocumentResult{}, err
	}

	bookkeeping := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})
	personaTimeout := durationOrDefault(input.PersonaTimeoutSeconds, 120)
	personaCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: personaTimeout + 30*time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	})

	if err := workflow.ExecuteActivity(bookkeeping, "MarkReviewRunningActivity", activities.MarkReviewRunningInput{ReviewID: input.ReviewID}).Get(ctx, nil); err != nil {
		return ReviewDocumentResult{}, err
	}
	progress.Status = models.ReviewRunning

	selector := workflow.NewSelector(ctx)
	for _, personaID := range input.PersonaIDs {
		personaID := personaID
		progress.PersonaStatuses[personaID] = models.PersonaRunning
		f := workflow.ExecuteActivity(personaCtx, "PersonaReviewActivity", activities.PersonaReviewInput{
			ReviewID:   input.ReviewID,
			DocumentID: input.DocumentID,
			PersonaID:  personaID,
		})
		selector.AddFuture(f, func(f workflow.Future) {
			var out activities.PersonaReviewOutput
			if err := f.Get(ctx, &out); err != nil {
				progress.PersonaStatuses[personaID] = models.PersonaFailed
				progress.PersonaErrors[personaID] = err.Error()
				progress.Failed++
				return
			}
			progress.PersonaStatuses[personaID] = models.PersonaCompleted
			progress.TotalComments += out.Comments
			progress.Done++
		})
	}
	for range input.PersonaIDs {
		selector.Select(ctx)
	}

	progress.Status = models.ReviewFailed
	errMsg := review.ErrAllPersonasFailed.Error()
	if progress.Done > 0 {
		progress.Status = models.ReviewCompleted
		errMsg = ""
	}
	if err := workflow.ExecuteActivity(bookkeeping, "CompleteReviewActivity", activities.CompleteReviewInput{
		ReviewID:        input.ReviewID,
		Status:          progress.Status,
		PersonaStatuses: progress.PersonaStatuses,
		Error:           errMsg,
	}).Get(ctx, nil); err != nil {
		return ReviewDocumentResult{}, err
	}

	result := ReviewDocumentResult{ReviewID: input.ReviewID, Status: progress.Status, TotalComments: progress.TotalComments}
	if !input.Synthesize || progress.Status != models.ReviewCompleted {
		return result, nil
	}

	// Synthesis failure leaves the per-persona review intact.
	progress.Synthesis = "running"
	synthCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	var synthOut activities.SynthesizeReviewOutput
	if err := workflow.ExecuteActivity(synthCtx, "SynthesizeReviewActivity", activities.SynthesizeReviewInput{ReviewID: input.ReviewID}).Get(ctx, &synthOut); err != nil {
		workflow.GetLogger(ctx).Warn("synthesis failed", "review_id", input.ReviewID, "error", err)
		progress.Synthesis = "failed"
		return result, nil
	}
	progress.Synthesis = "completed"
	progress.MetaComments = synthOut.MetaComments
	result.MetaComments = synthOut.MetaComments
	return result, nil
}

func durationOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
