package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"vos/internal/metrics"
	"vos/internal/models"
	"vos/internal/workflows"

	"github.com/go-chi/chi/v5"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

type startReviewRequest struct {
	PersonaIDs []string `json:"persona_ids"`
	Synthesize bool     `json:"synthesize"`
}

func decodeReviewRequest(r *http.Request) (startReviewRequest, error) {
	var req startReviewRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, badRequest("Malformed JSON request body")
	}
	return req, nil
}

func (s *Server) personaSelection(ids []string) []string {
	if len(ids) == 0 {
		return s.personas.IDs()
	}
	return ids
}

// handleStreamReview starts a review and streams its events as SSE. A client
// that goes away stops receiving events; the review itself keeps running
// unless cancel-on-disconnect is configured.
func (s *Server) handleStreamReview(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	req, err := decodeReviewRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	run, err := s.orchestrator.Start(r.Context(), docID, s.personaSelection(req.PersonaIDs))
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	log := s.log.With().Str("review_id", run.ReviewID).Str("document_id", docID).Logger()
	sse := newSSEWriter(w, flusher)

	var heartbeat <-chan time.Time
	if s.cfg.SSEHeartbeat > 0 {
		ticker := time.NewTicker(s.cfg.SSEHeartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	disconnect := func(reason string) {
		run.Detach()
		if s.cfg.CancelOnDisconnect {
			run.Cancel()
		}
		metrics.StreamDisconnects.Inc()
		log.Debug().Str("reason", reason).Bool("cancelled", s.cfg.CancelOnDisconnect).Msg("review stream disconnected")
	}

	events := run.Events()
	for {
		select {
		case <-r.Context().Done():
			disconnect("client gone")
			return
		case <-heartbeat:
			if err := sse.heartbeat(); err != nil {
				disconnect("heartbeat write failed")
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.send(ev.Type, ev); err != nil {
				disconnect("event write failed")
				return
			}
		}
	}
}

// handleStartReviewAsync hands the review to a Temporal workflow and returns
// immediately.
func (s *Server) handleStartReviewAsync(w http.ResponseWriter, r *http.Request) {
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("temporal disabled"))
		return
	}
	docID := chi.URLParam(r, "documentID")
	req, err := decodeReviewRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	plan, err := s.orchestrator.Prepare(r.Context(), docID, s.personaSelection(req.PersonaIDs))
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	opts := tclient.StartWorkflowOptions{
		ID:                                       workflows.WorkflowID(plan.Review.ID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	input := workflows.ReviewDocumentInput{
		ReviewID:              plan.Review.ID,
		DocumentID:            docID,
		PersonaIDs:            plan.Review.PersonaIDs,
		Synthesize:            req.Synthesize,
		PersonaTimeoutSeconds: int(s.cfg.PersonaTimeout.Seconds()),
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), opts, workflows.ReviewDocumentWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			writeErr(w, http.StatusConflict, err)
			return
		}
		s.log.Error().Err(err).Str("review_id", plan.Review.ID).Msg("start review workflow")
		if ferr := s.orchestrator.Finish(r.Context(), plan.Review.ID, models.ReviewFailed, plan.Review.PersonaStatuses, "workflow start failed"); ferr != nil {
			s.log.Warn().Err(ferr).Str("review_id", plan.Review.ID).Msg("mark review failed")
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	metrics.ReviewsStarted.WithLabelValues("async").Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id":   plan.Review.ID,
		"workflow_id": we.GetID(),
		"run_id":      we.GetRunID(),
	})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	if _, err := s.store.GetDocument(r.Context(), docID); err != nil {
		writeDomainErr(w, err)
		return
	}
	list, err := s.store.ListReviews(r.Context(), docID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": list})
}

func (s *Server) handleLatestComments(w http.ResponseWriter, r *http.Request) {
	rv, err := s.store.LatestReview(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), rv.ID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rv, "comments": comments})
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rv, err := s.store.GetReview(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (s *Server) handleReviewComments(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	if _, err := s.store.GetReview(r.Context(), reviewID); err != nil {
		writeDomainErr(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), reviewID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review_id": reviewID, "comments": comments})
}

// handleReviewProgress asks the review workflow for live progress and falls
// back to the stored review when there is no workflow to ask.
func (s *Server) handleReviewProgress(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	rv, err := s.store.GetReview(r.Context(), reviewID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	if s.temporal != nil {
		resp, err := s.temporal.QueryWorkflow(r.Context(), workflows.WorkflowID(reviewID), "", workflows.QueryGetReviewProgress)
		if err == nil {
			var progress workflows.ReviewProgress
			if err := resp.Get(&progress); err == nil {
				writeJSON(w, http.StatusOK, map[string]any{"source": "workflow", "progress": progress})
				return
			}
		} else {
			s.log.Debug().Err(err).Str("review_id", reviewID).Msg("progress query unavailable")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"source": "store", "progress": progressFromReview(rv)})
}

func progressFromReview(rv models.Review) workflows.ReviewProgress {
	p := workflows.ReviewProgress{
		ReviewID:        rv.ID,
		DocumentID:      rv.DocumentID,
		Status:          rv.Status,
		PersonaStatuses: rv.PersonaStatuses,
		TotalComments:   rv.TotalComments,
	}
	for _, st := range rv.PersonaStatuses {
		switch st {
		case models.PersonaCompleted:
			p.Done++
		case models.PersonaFailed:
			p.Failed++
		}
	}
	if rv.SynthesizedAt != nil {
		p.Synthesis = "completed"
	}
	return p
}
