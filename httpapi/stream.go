package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/transcriptx/internal/logx"
	"pkt.systems/transcriptx/schema"
)

const streamKeepalive = 15 * time.Second

// handleStream sends the current session snapshot, then one refresh event per
// transcript change until the client leaves or the session closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("stream unsupported"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	sessionID := sessionParam(r)
	log := logx.WithSession(r.Context(), sessionID)

	// Subscribe before reading the snapshot so no change falls between the two.
	ch, unsubscribe := s.bus.Subscribe(sessionID)
	defer unsubscribe()

	resp, err := s.service.GetTranscript(r.Context(), schema.GetTranscriptRequest{SessionID: sessionID})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_ = writeSSEvent(w, "snapshot", resp.Session.CommitGeneration, resp.Session)
	flusher.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()
	log.Info("http stream opened", "commit_gen", resp.Session.CommitGeneration)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed")
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				log.Info("http stream closed", "reason", "unsubscribed")
				return
			}
			_ = writeSSEvent(w, "refresh", event.CommitGeneration, event)
			flusher.Flush()
			if event.Closed {
				log.Info("http stream closed", "reason", "session closed")
				return
			}
		}
	}
}

func writeSSEvent(w http.ResponseWriter, name string, id uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", id)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return nil
}
