package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	telemetry "plantwatch/internal/telemetry/domain"
)

const maxIngestBody = 1 << 20

// ReadingSink accepts pushed readings.
type ReadingSink interface {
	Put(reading telemetry.Reading)
}

// IngestHandler accepts sensor values pushed by field gateways.
type IngestHandler struct {
	sink   ReadingSink
	logger *zap.Logger
	now    func() time.Time
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(sink ReadingSink, logger *zap.Logger) (*IngestHandler, error) {
	if sink == nil {
		return nil, errors.New("telemetry ingest: nil sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{sink: sink, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// ServeHTTP ingests sensor values.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.logger.Warn("telemetry ingest: read body error", zap.Error(err))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("telemetry ingest: decode error", zap.Error(err))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	readings, err := req.toReadings(h.now())
	if err != nil {
		h.logger.Warn("telemetry ingest: invalid payload", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	for _, reading := range readings {
		h.sink.Put(reading)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": len(readings)})
}

type ingestRequest struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
	Points []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
}

func (r ingestRequest) toReadings(now time.Time) ([]telemetry.Reading, error) {
	points := r.Points
	if len(points) == 0 && len(r.Values) > 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	var readings []telemetry.Reading
	for _, point := range points {
		at := now
		if point.TS != 0 {
			ts, err := parseTimestamp(point.TS)
			if err != nil {
				return nil, err
			}
			at = ts
		}
		if len(point.Values) == 0 {
			return nil, errors.New("empty values")
		}
		for tag, value := range point.Values {
			if tag == "" || math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, errors.New("invalid value for tag " + tag)
			}
			readings = append(readings, telemetry.Reading{Tag: tag, Value: value, At: at})
		}
	}
	return readings, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value < 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
