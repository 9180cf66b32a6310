package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/songmopx/planeveryday.org/internal/platform/logging"
)

func TestNewRouter_HealthAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerTo(&buf, "test", "info")

	var sawLogger bool
	r := NewRouter("test", logger, time.Second, func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			sawLogger = logging.FromContext(r.Context(), nil) != nil
			w.WriteHeader(http.StatusBadGateway)
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Service != "test" || health.Status != "ok" {
		t.Fatalf("unexpected health body %+v", health)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !sawLogger {
		t.Fatal("expected a request logger on the context")
	}

	logs := buf.String()
	if !strings.Contains(logs, `"path":"/boom"`) || !strings.Contains(logs, `"status":502`) || !strings.Contains(logs, `"level":"ERROR"`) {
		t.Fatalf("access log missing fields: %s", logs)
	}
	if !strings.Contains(logs, `"requestId"`) {
		t.Fatalf("access log missing request id: %s", logs)
	}
}
