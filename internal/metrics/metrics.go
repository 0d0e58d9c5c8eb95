package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vos_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "path"},
	)

	// Review metrics
	ReviewsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_reviews_started_total",
			Help: "Total review runs started",
		},
		[]string{"mode"}, // "stream" or "async"
	)

	ReviewsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_reviews_finished_total",
			Help: "Total review runs finished by terminal status",
		},
		[]string{"status"},
	)

	ReviewsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vos_reviews_in_flight",
			Help: "Review runs currently fanning out",
		},
	)

	PersonaCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_persona_calls_total",
			Help: "Persona review calls by outcome",
		},
		[]string{"persona", "status"},
	)

	PersonaCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vos_persona_call_duration_seconds",
			Help:    "Persona review call duration",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"persona"},
	)

	CommentsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vos_comments_emitted_total",
			Help: "Comments accepted and persisted",
		},
	)

	CommentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_comments_dropped_total",
			Help: "Comments dropped during validation",
		},
		[]string{"reason"},
	)

	StreamDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vos_stream_disconnects_total",
			Help: "Review streams whose client went away before done",
		},
	)

	// Synthesis metrics
	SynthesisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_synthesis_runs_total",
			Help: "Meta-synthesis requests by outcome",
		},
		[]string{"outcome"}, // "computed", "cached", "fallback", "conflict", "error"
	)

	// Provider metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vos_llm_calls_total",
			Help: "Provider calls by provider and result",
		},
		[]string{"provider", "operation", "status"},
	)
)
