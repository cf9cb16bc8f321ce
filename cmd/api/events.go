package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"jurisflow/httpx"
)

const sseRetryMillis = 10000

// handleEvents streams every case event to one observer until it disconnects
// or the hub drops it for falling behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported", nil)
		return
	}

	sub := s.hub.Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	flusher.Flush()

	keepAlive := s.keepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	s.logger.Debug("observer connected", "observer_id", sub.ID())
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("observer disconnected", "observer_id", sub.ID())
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("marshal event", "error", err, "event_type", evt.Type)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", evt.ID, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
