package api

import (
	"net/http"
	"strconv"

	"vos/internal/storage"

	"github.com/go-chi/chi/v5"
)

// handleSynthesize returns the cached synthesis for a review, computing it
// on first request. force=true recomputes.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := s.synthesis.Synthesize(r.Context(), reviewID, force)
	if err != nil {
		s.log.Warn().Err(err).Str("review_id", reviewID).Msg("synthesis failed")
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSynthesis(w http.ResponseWriter, r *http.Request) {
	res, found, err := s.synthesis.Cached(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if !found {
		writeErr(w, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
