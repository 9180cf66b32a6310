package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/songmopx/planeveryday.org/internal/platform/apierror"
	"github.com/songmopx/planeveryday.org/internal/platform/auth"
	"github.com/songmopx/planeveryday.org/internal/platform/logging"
	"github.com/songmopx/planeveryday.org/internal/projection"
	"github.com/songmopx/planeveryday.org/internal/reconcile"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
	"github.com/songmopx/planeveryday.org/internal/tracker"
)

const (
	maxPayloadBytes  = 1 << 20 // 1MB
	maxImportBytes   = 8 << 20
	defaultTrendDays = 30
	maxTrendDays     = 365
)

type handler struct {
	tracker  *tracker.Tracker
	session  *auth.Session
	verifier auth.Verifier
	logger   *slog.Logger
}

type quickAddRequest struct {
	Name string `json:"name"`
}

type tasksResponse struct {
	Daily  []task.Task `json:"daily"`
	Single []task.Task `json:"single"`
}

type occurrenceDay struct {
	Date        task.Date               `json:"date"`
	Occurrences []projection.Occurrence `json:"occurrences"`
}

type occurrencesResponse struct {
	From task.Date       `json:"from"`
	To   task.Date       `json:"to"`
	Days []occurrenceDay `json:"days"`
}

type sessionResponse struct {
	Namespace string                  `json:"namespace"`
	Pending   bool                    `json:"pending"`
	SignedIn  bool                    `json:"signedIn"`
	User      *auth.AuthenticatedUser `json:"user,omitempty"`
}

// RegisterRoutes mounts the task tracker API on r.
func RegisterRoutes(r chi.Router, tr *tracker.Tracker, session *auth.Session, verifier auth.Verifier, logger *slog.Logger) {
	h := newHandler(tr, session, verifier, logger)

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.With(auth.Middleware(h.verifier)).Post("/", h.signIn)
		r.With(auth.RequireSessionUser(session, h.verifier)).Delete("/", h.signOut)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSessionUser(session, h.verifier))
		h.registerData(r)
	})
}

func (h *handler) registerData(r chi.Router) {
	r.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)
		r.Post("/quick", h.quickAdd)
		r.Post("/reclassify", h.reclassify)
		r.Delete("/{kind}/{id}", h.deleteTask)
	})
	r.Route("/v1/completions", func(r chi.Router) {
		r.Get("/", h.listCompletions)
		r.Post("/", h.recordCompletion)
		r.Delete("/{id}", h.deleteCompletion)
	})
	r.Get("/v1/occurrences", h.occurrences)
	r.Get("/v1/overview", h.overview)
	r.Get("/v1/unfinished", h.unfinished)
	r.Get("/v1/singles/completed", h.completedSingles)
	r.Route("/v1/statistics", func(r chi.Router) {
		r.Get("/", h.statistics)
		r.Post("/recompute", h.recompute)
		r.Get("/trend", h.trend)
		r.Get("/tasks/{id}", h.taskStats)
	})
	r.Get("/v1/timer", h.timer)
	r.Delete("/v1/timer", h.resetTimer)
	r.Post("/v1/import", h.importDocuments)
	r.Get("/v1/export", h.exportDocuments)
}

func newHandler(tr *tracker.Tracker, session *auth.Session, verifier auth.Verifier, logger *slog.Logger) *handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &handler{tracker: tr, session: session, verifier: verifier, logger: logger}
}

func (h *handler) listTasks(w http.ResponseWriter, _ *http.Request) {
	daily, single := h.tracker.Tasks()
	writeJSON(w, http.StatusOK, tasksResponse{Daily: nonNil(daily), Single: nonNil(single)})
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var spec task.TaskSpec
	if err := decodeJSON(w, r, &spec, maxPayloadBytes); err != nil {
		writeError(w, r, apierror.CodeBadRequest, err.Error())
		return
	}
	created, err := h.tracker.CreateTask(r.Context(), spec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) quickAdd(w http.ResponseWriter, r *http.Request) {
	var req quickAddRequest
	if err := decodeJSON(w, r, &req, maxPayloadBytes); err != nil {
		writeError(w, r, apierror.CodeBadRequest, err.Error())
		return
	}
	created, err := h.tracker.QuickAdd(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	kind := task.Kind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	permanent, err := parseBool(r.URL.Query().Get("permanent"))
	if err != nil {
		writeError(w, r, apierror.CodeBadRequest, "permanent must be true or false")
		return
	}

	res, ok, err := h.tracker.DeleteTask(r.Context(), id, kind, permanent)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":        ok,
		"recordsRemoved": len(res.Records),
	})
}

func (h *handler) reclassify(w http.ResponseWriter, r *http.Request) {
	moved := h.tracker.Reclassify(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

func (h *handler) listCompletions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.RecordFilter{TaskID: q.Get("taskId")}
	var problems []string
	if v := q.Get("from"); v != "" {
		d, err := task.ParseDate(v)
		if err != nil {
			problems = append(problems, "from must be a YYYY-MM-DD date")
		}
		filter.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := task.ParseDate(v)
		if err != nil {
			problems = append(problems, "to must be a YYYY-MM-DD date")
		}
		filter.To = d
	}
	if len(problems) > 0 {
		h.respondError(w, r, &task.ValidationError{Problems: problems})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.tracker.Records(filter)})
}

func (h *handler) recordCompletion(w http.ResponseWriter, r *http.Request) {
	var in task.CompletionInput
	if err := decodeJSON(w, r, &in, maxPayloadBytes); err != nil {
		writeError(w, r, apierror.CodeBadRequest, err.Error())
		return
	}
	rec, err := h.tracker.RecordCompletion(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) deleteCompletion(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tracker.DeleteCompletionRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) occurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proj, window, err := h.tracker.Occurrences(task.Date(q.Get("from")), task.Date(q.Get("to")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := occurrencesResponse{From: window.From, To: window.To, Days: []occurrenceDay{}}
	for _, d := range task.DatesBetween(window.From, window.To) {
		day := proj[d]
		if day == nil {
			day = []projection.Occurrence{}
		}
		resp.Days = append(resp.Days, occurrenceDay{Date: d, Occurrences: day})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) overview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Overview())
}

func (h *handler) unfinished(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.tracker.Unfinished()})
}

func (h *handler) completedSingles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(h.tracker.CompletedSingles())})
}

func (h *handler) statistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Statistics())
}

func (h *handler) recompute(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Recompute(r.Context()))
}

func (h *handler) trend(w http.ResponseWriter, r *http.Request) {
	days := defaultTrendDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrendDays {
			writeError(w, r, apierror.CodeBadRequest, fmt.Sprintf("days must be an integer between 1 and %d", maxTrendDays))
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": h.tracker.Trend(days)})
}

func (h *handler) taskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.TaskStats(chi.URLParam(r, "id")))
}

func (h *handler) timer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Timer())
}

func (h *handler) resetTimer(w http.ResponseWriter, r *http.Request) {
	h.tracker.ResetTimer(r.Context())
	writeJSON(w, http.StatusOK, h.tracker.Timer())
}

func (h *handler) sessionState() sessionResponse {
	ns, pending := h.tracker.Namespace()
	resp := sessionResponse{Namespace: ns.String(), Pending: pending}
	if user, ok := h.session.Current(); ok {
		resp.SignedIn = true
		resp.User = &user
	}
	return resp
}

func (h *handler) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionState())
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, apierror.CodeUnauthorized, "missing user")
		return
	}
	if err := h.session.SignIn(r.Context(), user); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionState())
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SignOut(r.Context()); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionState())
}

func (h *handler) importDocuments(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw, maxImportBytes); err != nil {
		writeError(w, r, apierror.CodeBadRequest, err.Error())
		return
	}
	docs := make(storage.Documents, len(raw))
	var problems []string
	for k, v := range raw {
		key := storage.Key(k)
		if !key.Valid() {
			problems = append(problems, fmt.Sprintf("unknown document %q", k))
			continue
		}
		docs[key] = v
	}
	if len(problems) > 0 {
		h.respondError(w, r, &task.ValidationError{Problems: problems})
		return
	}

	report, err := h.tracker.Import(r.Context(), docs)
	var rerr *reconcile.ReconciliationError
	if err != nil && !errors.As(err, &rerr) {
		h.respondError(w, r, err)
		return
	}
	resp := map[string]any{"report": report}
	if rerr != nil {
		resp["warnings"] = errorStrings(rerr.Causes)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) exportDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.tracker.Export()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make(map[string]json.RawMessage, len(docs))
	for k, v := range docs {
		out[string(k)] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorResponse(w, r, apierror.ErrorResponse{
			Code:     apierror.CodeBadRequest,
			Message:  "invalid input",
			Problems: verr.Problems,
		})
	case errors.Is(err, task.ErrNotFound):
		writeError(w, r, apierror.CodeNotFound, err.Error())
	case errors.Is(err, reconcile.ErrStaleLoad):
		writeError(w, r, apierror.CodeConflict, err.Error())
	case errors.Is(err, auth.ErrMissingAuthHeader), errors.Is(err, auth.ErrInvalidAuthHeader), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, apierror.CodeUnauthorized, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).
			Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, apierror.CodeInternal, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("payload exceeds %d bytes", limit)
		}
		return fmt.Errorf("invalid JSON payload: %v", err)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	writeErrorResponse(w, r, apierror.ErrorResponse{Code: code, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, body apierror.ErrorResponse) {
	body.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, apierror.ToStatusCode(body.Code), body)
}
