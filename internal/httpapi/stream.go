package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/songmopx/planeveryday.org/internal/events"
	"github.com/songmopx/planeveryday.org/internal/platform/auth"
	"github.com/songmopx/planeveryday.org/internal/tracker"
)

const (
	eventBuffer       = 64
	keepAliveInterval = 25 * time.Second
)

// RegisterStream mounts GET /v1/events, a server-sent event stream of state
// changes. Mount it outside any request timeout.
func RegisterStream(r chi.Router, tr *tracker.Tracker, session *auth.Session, verifier auth.Verifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.With(auth.RequireSessionUser(session, verifier)).Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		streamEvents(w, r, tr.Events(), logger)
	})
}

func streamEvents(w http.ResponseWriter, r *http.Request, bus *events.Bus, logger *slog.Logger) {
	rc := http.NewResponseController(w)
	// The server's write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := bus.Subscribe(eventBuffer)
	defer cancel()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Warn("event stream cannot flush", "error", err)
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				logger.Error("encode event", "type", string(e.Type), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
