// Package api exposes the review service over HTTP.
package api

import (
	"context"
	"net/http"

	"vos/internal/config"
	"vos/internal/personas"
	"vos/internal/providers"
	"vos/internal/review"
	"vos/internal/storage"
	"vos/internal/synthesis"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	tclient "go.temporal.io/sdk/client"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store        storage.Store
	Personas     *personas.Registry
	Orchestrator *review.Orchestrator
	Synthesis    *synthesis.Engine
	Providers    *providers.Manager
	// Temporal is nil when durable execution is disabled.
	Temporal tclient.Client
	// Redis is nil when no lock server is configured.
	Redis Pinger
}

type Server struct {
	cfg          config.Config
	log          zerolog.Logger
	store        storage.Store
	personas     *personas.Registry
	orchestrator *review.Orchestrator
	synthesis    *synthesis.Engine
	providers    *providers.Manager
	temporal     tclient.Client
	redis        Pinger
}

func NewServer(cfg config.Config, log zerolog.Logger, deps Deps) *Server {
	return &Server{
		cfg:          cfg,
		log:          log,
		store:        deps.Store,
		personas:     deps.Personas,
		orchestrator: deps.Orchestrator,
		synthesis:    deps.Synthesis,
		providers:    deps.Providers,
		temporal:     deps.Temporal,
		redis:        deps.Redis,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, nil)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/personas", s.handleListPersonas)
		r.Get("/personas/{personaID}", s.handleGetPersona)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleCreateDocument)
			r.Post("/upload", s.handleUploadDocument)

			r.Route("/{documentID}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Delete("/", s.handleDeleteDocument)
				r.Get("/content", s.handleDocumentContent)
				r.Post("/archive", s.handleArchiveDocument(true))
				r.Post("/unarchive", s.handleArchiveDocument(false))

				r.Post("/reviews", s.handleStreamReview)
				r.Post("/reviews/async", s.handleStartReviewAsync)
				r.Get("/reviews", s.handleListReviews)
				r.Get("/reviews/latest/comments", s.handleLatestComments)
			})
		})

		r.Route("/reviews/{reviewID}", func(r chi.Router) {
			r.Get("/", s.handleGetReview)
			r.Get("/comments", s.handleReviewComments)
			r.Get("/progress", s.handleReviewProgress)
			r.Post("/synthesis", s.handleSynthesize)
			r.Get("/synthesis", s.handleGetSynthesis)
		})
	})

	return r
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": s.personas.List()})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := s.personas.Get(chi.URLParam(r, "personaID"))
	if !ok {
		writeErr(w, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
