package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/internal/eventbus"
	"pkt.systems/transcriptx/internal/format"
	"pkt.systems/transcriptx/internal/logx"
	"pkt.systems/transcriptx/internal/version"
	"pkt.systems/transcriptx/internal/wire"
	"pkt.systems/transcriptx/schema"
)

const maxEventsBody = 64 << 20

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	bus      *eventbus.Bus
	gatherer prometheus.Gatherer
	renderer *format.PlainRenderer
}

// NewServer constructs an HTTP server. bus and gatherer may be nil; the stream and
// metrics endpoints are then unavailable.
func NewServer(cfg Config, service core.Service, bus *eventbus.Bus, gatherer prometheus.Gatherer) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		bus:      bus,
		gatherer: gatherer,
		renderer: format.NewPlainRenderer(),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withRequestLogging)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.EnableMetrics && s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleOpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Use(withSessionLogger)
			r.Get("/", s.handleTranscript)
			r.Delete("/", s.handleCloseSession)
			r.Get("/text", s.handleTranscriptText)
			r.Get("/stream", s.handleStream)
			r.Post("/reset", s.handleResetSession)
			r.Post("/events", s.handleEvents)
			r.Post("/running", s.handleMarkRunning)
			r.Post("/cancel", s.handleCancel)
			r.Post("/output", s.handleOutput)
			r.Post("/lines", s.handleAddLine)
			r.Post("/lines/{lineID}/finish", s.handleFinishCommand)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Read()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.ListSessions(r.Context(), schema.ListSessionsRequest{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sessions := resp.Sessions
	if sessions == nil {
		sessions = []schema.SessionSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID      schema.SessionID `json:"id"`
		Restore bool             `json:"restore"`
	}
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.OpenSession(r.Context(), schema.OpenSessionRequest{SessionID: payload.ID, Restore: payload.Restore})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": resp.Session, "restored": resp.Restored})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.CloseSession(r.Context(), schema.CloseSessionRequest{SessionID: sessionParam(r)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session, "persisted": resp.Persisted})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.ResetSession(r.Context(), schema.ResetSessionRequest{SessionID: sessionParam(r)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.GetTranscript(r.Context(), schema.GetTranscriptRequest{SessionID: sessionParam(r)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	records, err := schema.EncodeLines(resp.Lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []schema.LineRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session, "lines": records})
}

func (s *Server) handleTranscriptText(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.GetTranscript(r.Context(), schema.GetTranscriptRequest{SessionID: sessionParam(r)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	renderer := s.renderer
	if r.URL.Query().Get("phase") == "1" {
		renderer = &format.PlainRenderer{ShowPhase: true}
	}
	var buf bytes.Buffer
	for _, row := range renderer.Render(resp.Lines) {
		buf.WriteString(row)
		buf.WriteByte('\n')
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleEvents accepts a JSON array of backend messages or one message per line.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logx.WithSession(r.Context(), sessionParam(r))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventsBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	events, err := decodeEvents(r, body)
	if err != nil {
		log.Warn("http events decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Ingest(r.Context(), schema.IngestRequest{SessionID: sessionParam(r), Events: events})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	orphans := resp.Orphans
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":           resp.Applied,
		"dropped":           resp.Dropped,
		"ignored":           resp.Ignored,
		"orphans":           orphans,
		"commit_generation": resp.CommitGeneration,
	})
}

func decodeEvents(r *http.Request, body []byte) ([]schema.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []schema.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		return events, nil
	}
	return wire.ReadAll(r.Context(), bytes.NewReader(body), nil)
}

func (s *Server) handleMarkRunning(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ToolCallIDs []string `json:"tool_call_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.MarkRunning(r.Context(), schema.MarkRunningRequest{SessionID: sessionParam(r), ToolCallIDs: payload.ToolCallIDs})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": resp.Changed})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.Cancel(r.Context(), schema.CancelRequest{SessionID: sessionParam(r)})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"finished": resp.Finished, "abort_generation": resp.AbortGeneration})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ToolCallID string        `json:"tool_call_id"`
		LineID     schema.LineID `json:"line_id"`
		Chunk      string        `json:"chunk"`
		Stderr     bool          `json:"stderr"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.AppendOutput(r.Context(), schema.AppendOutputRequest{
		SessionID:  sessionParam(r),
		ToolCallID: payload.ToolCallID,
		LineID:     payload.LineID,
		Chunk:      payload.Chunk,
		Stderr:     payload.Stderr,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": resp.Accepted})
}

func (s *Server) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind  schema.LineKind `json:"kind"`
		Text  string          `json:"text"`
		Lines []string        `json:"lines"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.AddLocalLine(r.Context(), schema.AddLocalLineRequest{
		SessionID: sessionParam(r),
		Kind:      payload.Kind,
		Text:      payload.Text,
		Lines:     payload.Lines,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"line_id": resp.LineID})
}

func (s *Server) handleFinishCommand(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Output string `json:"output"`
		OK     bool   `json:"ok"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, err := s.service.FinishCommand(r.Context(), schema.FinishCommandRequest{
		SessionID: sessionParam(r),
		LineID:    schema.LineID(chi.URLParam(r, "lineID")),
		Output:    payload.Output,
		OK:        payload.OK,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionParam(r *http.Request) schema.SessionID {
	return schema.SessionID(chi.URLParam(r, "sessionID"))
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func decodeOptionalJSON(body io.Reader, target any) error {
	if err := decodeJSON(body, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, schema.ErrSessionNotFound), errors.Is(err, schema.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrSessionExists), errors.Is(err, schema.ErrStoreUnavailable):
		return http.StatusConflict
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidSession),
		errors.Is(err, schema.ErrNotCommandLine),
		errors.Is(err, schema.ErrUnknownLineKind):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
