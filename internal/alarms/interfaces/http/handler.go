package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/alarms/interfaces/export"
	"plantwatch/internal/audit"
	"plantwatch/internal/observability/metrics"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 24 * 90
)

// ScenarioService is the engine surface used by the API.
type ScenarioService interface {
	Scenarios() []alarms.Scenario
	Scenario(id string) (alarms.Scenario, error)
	SetEnabled(id string, enabled bool) (alarms.Scenario, error)
	History(since time.Time) []alarms.Event
}

// HistoryStore reads persisted events.
type HistoryStore interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]alarms.Event, error)
}

// Handler provides scenario and alarm history endpoints.
type Handler struct {
	service ScenarioService
	store   HistoryStore
	audit   audit.Logger
	logger  *zap.Logger
	limit   int
	now     func() time.Time
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithHistoryStore serves history from persistent storage instead of memory.
func WithHistoryStore(store HistoryStore) HandlerOption {
	return func(h *Handler) {
		if store != nil {
			h.store = store
		}
	}
}

// WithAuditLogger records scenario toggles.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.audit = logger
		}
	}
}

// WithHandlerLogger assigns a logger.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHistoryLimit caps rows read from the history store.
func WithHistoryLimit(limit int) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.limit = limit
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service ScenarioService, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	h := &Handler{
		service: service,
		logger:  zap.NewNop(),
		limit:   10000,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/scenarios", h)
	mux.Handle("/api/v1/scenarios/", h)
	mux.Handle("/api/v1/alarms/history", h)
	mux.Handle("/api/v1/alarms/export.xlsx", h)
	mux.Handle("/api/v1/alarms/export.pdf", h)
}

// ServeHTTP dispatches scenario and alarm routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/scenarios":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.service.Scenarios())
	case strings.HasPrefix(path, "/api/v1/scenarios/"):
		h.handleScenario(w, r, strings.TrimPrefix(path, "/api/v1/scenarios/"))
	case path == "/api/v1/alarms/history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r)
	case path == "/api/v1/alarms/export.xlsx":
		h.handleExport(w, r, "xlsx")
	case path == "/api/v1/alarms/export.pdf":
		h.handleExport(w, r, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleScenario(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		scenario, err := h.service.Scenario(id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scenario)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var enabled bool
	var action string
	switch parts[1] {
	case "enable":
		enabled, action = true, audit.ActionScenarioEnable
	case "disable":
		enabled, action = false, audit.ActionScenarioDisable
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	scenario, err := h.service.SetEnabled(id, enabled)
	if err != nil {
		respondError(w, err)
		return
	}
	if h.audit != nil {
		entry := audit.FromRequest(r, action, "scenario", id, map[string]bool{"enabled": enabled})
		if err := h.audit.Log(r.Context(), entry); err != nil {
			h.logger.Warn("audit log failed", zap.String("scenario_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, scenario)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	since, err := h.sinceFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.history(r.Context(), since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if level := r.URL.Query().Get("level"); level != "" {
		parsed, ok := alarms.ParseLevel(level)
		if !ok {
			http.Error(w, "invalid level", http.StatusBadRequest)
			return
		}
		events = filterMinLevel(events, parsed)
	}
	if events == nil {
		events = []alarms.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	since, err := h.sinceFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.history(r.Context(), since)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	report := export.Report{From: since, To: h.now(), GeneratedAt: h.now(), Events: events}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = export.BuildXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = export.BuildPDF(report)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=alarm-history."+format)
	_, _ = w.Write(data)
}

func (h *Handler) history(ctx context.Context, since time.Time) ([]alarms.Event, error) {
	if h.store != nil {
		return h.store.ListSince(ctx, since, h.limit)
	}
	events := h.service.History(since)
	// memory history is oldest first; the API returns newest first like the store
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (h *Handler) sinceFromQuery(r *http.Request) (time.Time, error) {
	hours := defaultHistoryHours
	if value := r.URL.Query().Get("hours"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 || parsed > maxHistoryHours {
			return time.Time{}, errors.New("hours must be between 1 and 2160")
		}
		hours = parsed
	}
	return h.now().Add(-time.Duration(hours) * time.Hour), nil
}

func filterMinLevel(events []alarms.Event, min alarms.Level) []alarms.Event {
	out := events[:0]
	for _, event := range events {
		if event.Level.Rank() >= min.Rank() {
			out = append(out, event)
		}
	}
	return out
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alarms.ErrScenarioNotFound), errors.Is(err, alarms.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
