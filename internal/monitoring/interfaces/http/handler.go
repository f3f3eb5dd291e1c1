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

	"plantwatch/internal/audit"
	monitoringapp "plantwatch/internal/monitoring/application"
	monitoring "plantwatch/internal/monitoring/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

const maxViolationHours = 24 * 30

// SnapshotSource provides the latest value per tag.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (telemetry.Snapshot, error)
}

// Monitor is the monitoring surface used by the API.
type Monitor interface {
	Status(ctx context.Context, snapshot map[string]float64) monitoringapp.Status
	ViolationHistory(since time.Time) []monitoring.Violation
	Predict(ctx context.Context, tag string) (float64, bool, error)
	Thresholds() *monitoring.ThresholdTable
}

// Handler serves monitoring and threshold endpoints.
type Handler struct {
	monitor     Monitor
	source      SnapshotSource
	auditLogger audit.Logger
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler constructs a Handler. auditLogger and logger may be nil.
func NewHandler(monitor Monitor, source SnapshotSource, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if monitor == nil {
		return nil, errors.New("monitoring handler: nil monitor")
	}
	if source == nil {
		return nil, errors.New("monitoring handler: nil snapshot source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		monitor:     monitor,
		source:      source,
		auditLogger: auditLogger,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/monitoring/", h)
	mux.Handle("/api/v1/thresholds", h)
	mux.Handle("/api/v1/thresholds/", h)
}

// ServeHTTP routes monitoring requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/monitoring/status" && r.Method == http.MethodGet:
		h.handleStatus(w, r)
	case path == "/api/v1/monitoring/violations" && r.Method == http.MethodGet:
		h.handleViolations(w, r)
	case strings.HasPrefix(path, "/api/v1/monitoring/predict/") && r.Method == http.MethodGet:
		h.handlePredict(w, r, strings.TrimPrefix(path, "/api/v1/monitoring/predict/"))
	case path == "/api/v1/thresholds" || path == "/api/v1/thresholds/":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.monitor.Thresholds().All())
	case strings.HasPrefix(path, "/api/v1/thresholds/"):
		h.handleThreshold(w, r, strings.TrimPrefix(path, "/api/v1/thresholds/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.source.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn("status snapshot failed", zap.Error(err))
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status(r.Context(), snapshot))
}

func (h *Handler) handleViolations(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if value := r.URL.Query().Get("hours"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 || parsed > maxViolationHours {
			http.Error(w, "invalid hours", http.StatusBadRequest)
			return
		}
		hours = parsed
	}
	since := h.now().Add(-time.Duration(hours) * time.Hour)
	writeJSON(w, http.StatusOK, h.monitor.ViolationHistory(since))
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request, tag string) {
	if tag == "" || strings.Contains(tag, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	minutes, ok, err := h.monitor.Predict(r.Context(), tag)
	if err != nil {
		respondError(w, err)
		return
	}
	resp := struct {
		Tag                string   `json:"tag"`
		MinutesToThreshold *float64 `json:"minutes_to_threshold"`
		NoPrediction       bool     `json:"no_prediction"`
	}{Tag: tag}
	if ok {
		resp.MinutesToThreshold = &minutes
	} else {
		resp.NoPrediction = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleThreshold(w http.ResponseWriter, r *http.Request, tag string) {
	if tag == "" || strings.Contains(tag, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	table := h.monitor.Thresholds()
	switch r.Method {
	case http.MethodGet:
		cfg, ok := table.Get(tag)
		if !ok {
			respondError(w, monitoring.ErrUnknownTag)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg monitoring.ThresholdConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if cfg.Tag == "" {
			cfg.Tag = tag
		}
		if cfg.Tag != tag {
			http.Error(w, "tag mismatch", http.StatusBadRequest)
			return
		}
		previous, existed := table.Get(tag)
		if err := table.Set(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("threshold updated", zap.String("tag", tag))
		if h.auditLogger != nil {
			metadata := map[string]any{"new": cfg}
			if existed {
				metadata["previous"] = previous
			}
			entry := audit.FromRequest(r, audit.ActionThresholdUpdate, "threshold", tag, metadata)
			if err := h.auditLogger.Log(r.Context(), entry); err != nil {
				h.logger.Warn("audit log failed", zap.String("tag", tag), zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, monitoring.ErrUnknownTag) {
		http.Error(w, "unknown tag", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
