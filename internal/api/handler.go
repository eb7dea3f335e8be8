package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/agent"
	"github.com/nvara/adscout/internal/store"
	"github.com/nvara/adscout/internal/stream"
	"github.com/nvara/adscout/internal/tools"
)

// Reader is the read side of session state served over HTTP. It exists so
// polling clients can recover after an SSE disconnect.
type Reader interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListLogEntries(ctx context.Context, sessionID string) ([]*store.LogEntry, error)
	ListMessages(ctx context.Context, sessionID string) ([]*store.ChatMessage, error)
	GetReport(ctx context.Context, id string) (*store.Report, error)
}

// Subscriber follows a session's execution log as it is written, for
// clients attached to a run they did not start.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) <-chan *store.LogEntry
}

// RegistryFactory builds the per-session tool registry.
type RegistryFactory func(sessionID, brandName string) *tools.Registry

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner      *agent.Runner
	reader      Reader
	subscriber  Subscriber
	newRegistry RegistryFactory
	queueSize   int
	logger      *zap.Logger
}

// NewHandler creates a new API handler. subscriber may be nil when no
// change feed is configured; the feed endpoint then answers 503.
func NewHandler(runner *agent.Runner, reader Reader, subscriber Subscriber, newRegistry RegistryFactory, logger *zap.Logger) *Handler {
	return &Handler{
		runner:      runner,
		reader:      reader,
		subscriber:  subscriber,
		newRegistry: newRegistry,
		queueSize:   256,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/research", h.startResearch)
		r.Get("/sessions/{id}", h.getSession)
		r.Get("/sessions/{id}/log", h.getSessionLog)
		r.Get("/sessions/{id}/feed", h.followSessionLog)
		r.Get("/sessions/{id}/messages", h.getSessionMessages)
		r.Get("/reports/{id}", h.getReport)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "adscout"})
}

// startResearch kicks off a research run and streams its progress as SSE
// until the run finishes. The run itself outlives the connection; a client
// that drops can resume by polling the session endpoints.
func (h *Handler) startResearch(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emitter := stream.NewEmitter(h.queueSize)
	registry := h.newRegistry(req.SessionID, req.BrandName)
	sessionID := h.runner.Start(r.Context(), req, registry, emitter)
	h.logger.Info("research run started", zap.String("session", sessionID))

	for ev := range emitter.Events() {
		b, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("event marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	if dropped := emitter.Dropped(); dropped > 0 {
		h.logger.Warn("stream events dropped",
			zap.String("session", sessionID), zap.Int64("dropped", dropped))
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.reader.GetSession(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) getSessionLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.reader.ListLogEntries(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*store.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// followSessionLog streams new execution log entries for a session over SSE.
// It covers spectators of an already-running session; the run's own SSE
// stream comes from startResearch. The stream ends when the subscription
// closes or the client disconnects.
func (h *Handler) followSessionLog(w http.ResponseWriter, r *http.Request) {
	if h.subscriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "change feed not configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for entry := range h.subscriber.Subscribe(r.Context(), id) {
		b, err := json.Marshal(entry)
		if err != nil {
			h.logger.Warn("log entry marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *Handler) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := h.reader.ListMessages(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []*store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.reader.GetReport(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrReportNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
