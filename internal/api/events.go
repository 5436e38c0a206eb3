package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/orchestrator"
)

// handleEvents streams a session's progress events as server-sent events
// until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.orch.Session(id); !ok {
		writeError(w, http.StatusNotFound, orchestrator.ErrSessionNotFound.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.orch.Subscribe(id)
	defer unsubscribe()
	log := s.logger.With(zap.String("session_id", id))
	log.Debug("event stream opened", zap.String("remote", r.RemoteAddr))

	// Commit the headers before the first event.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed")
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			var head struct {
				Event string `json:"event"`
			}
			if err := json.Unmarshal(b, &head); err != nil || head.Event == "" {
				head.Event = "message"
			}
			fmt.Fprintf(w, "event: %s\n", head.Event)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}
