package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tclient "go.temporal.io/sdk/client"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

const (
	diskHealthyBytes  = 100 << 20
	diskDegradedBytes = 10 << 20
)

type check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Checks    map[string]check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleStatus reports each dependency and an overall status equal to the
// worst individual check.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]check{
		"database":  pingCheck(ctx, s.store),
		"providers": s.providerCheck(),
		"disk":      diskCheck(s.cfg.DataDir),
	}
	if s.redis != nil {
		checks["redis"] = pingCheck(ctx, s.redis)
	}
	if s.temporal != nil {
		checks["temporal"] = temporalCheck(ctx, s.temporal)
	}

	overall := statusHealthy
	for _, c := range checks {
		overall = worse(overall, c.Status)
	}
	code := http.StatusOK
	if overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, statusResponse{
		Status:    overall,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func pingCheck(ctx context.Context, p Pinger) check {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return check{Status: statusUnhealthy, Message: "connection failed"}
	}
	return check{Status: statusHealthy, Latency: time.Since(start).String()}
}

func (s *Server) providerCheck() check {
	if s.providers == nil || s.providers.LLMCount() == 0 {
		return check{Status: statusUnhealthy, Message: "no providers configured"}
	}
	if !s.providers.HasRealProvider() {
		return check{Status: statusDegraded, Message: "only the mock provider is configured"}
	}
	return check{Status: statusHealthy, Message: fmt.Sprintf("%d provider(s) configured", s.providers.LLMCount())}
}

func temporalCheck(ctx context.Context, c tclient.Client) check {
	start := time.Now()
	if _, err := c.CheckHealth(ctx, &tclient.CheckHealthRequest{}); err != nil {
		return check{Status: statusDegraded, Message: "temporal unreachable"}
	}
	return check{Status: statusHealthy, Latency: time.Since(start).String()}
}

func diskCheck(dir string) check {
	free, err := freeBytes(dir)
	if err != nil {
		return check{Status: statusDegraded, Message: "disk space unknown"}
	}
	msg := fmt.Sprintf("%d MiB free", free>>20)
	switch {
	case free > diskHealthyBytes:
		return check{Status: statusHealthy, Message: msg}
	case free > diskDegradedBytes:
		return check{Status: statusDegraded, Message: msg}
	default:
		return check{Status: statusUnhealthy, Message: msg}
	}
}

func worse(a, b string) string {
	rank := map[string]int{statusHealthy: 0, statusDegraded: 1, statusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
