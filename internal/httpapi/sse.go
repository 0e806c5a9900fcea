package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// handleTrainStream streams job status and progress as server-sent events
// until the client disconnects or the job reaches a terminal state.
func (s *Server) handleTrainStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/train/stream/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
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

	send := func() (terminal, ok bool) {
		job, exists := s.registry.Get(id)
		if !exists {
			return true, false
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return false, false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false, false
		}
		flusher.Flush()
		return job.State.Terminal(), true
	}

	if terminal, ok := send(); terminal || !ok {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if terminal, ok := send(); terminal || !ok {
				return
			}
		}
	}
}
