package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/internal/logx"
)

func TestSessionLoggerBoundOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	r := chi.NewRouter()
	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Use(withSessionLogger)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			logx.WithSession(r.Context(), "s1").Info("handled")
			w.WriteHeader(http.StatusNoContent)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/", nil)
	req = req.WithContext(pslog.ContextWithLogger(context.Background(), logger))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	line := buf.String()
	if n := bytes.Count([]byte(line), []byte(`"session"`)); n != 1 {
		t.Fatalf("expected one session field, got %d in %s", n, line)
	}
	if !bytes.Contains([]byte(line), []byte(`"s1"`)) {
		t.Fatalf("expected session value in %s", line)
	}
}
