package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames events as text/event-stream records.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", event, s.seq, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// heartbeat writes an SSE comment line that clients ignore.
func (s *sseWriter) heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
