package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

const subscriberBuffer = 16

// EventBroker fans fired alarm events out to SSE and websocket clients. A
// client whose buffer is full misses the event.
type EventBroker struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription receives encoded events at or above its minimum level.
type Subscription struct {
	C        chan []byte
	minLevel alarms.Level
	dropped  atomic.Int64
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// NewEventBroker constructs a broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[*Subscription]struct{})}
}

// Notify implements the recorder's AlarmNotifier.
func (b *EventBroker) Notify(_ context.Context, event alarms.Event) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.minLevel != "" && event.Level.Rank() < sub.minLevel.Rank() {
			continue
		}
		select {
		case sub.C <- payload:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a client. An empty minLevel receives every event.
func (b *EventBroker) Subscribe(minLevel alarms.Level) *Subscription {
	sub := &Subscription{C: make(chan []byte, subscriberBuffer), minLevel: minLevel}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *EventBroker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.C)
	}
	b.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (b *EventBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func levelFromQuery(r *http.Request) (alarms.Level, error) {
	value := r.URL.Query().Get("level")
	if value == "" {
		return "", nil
	}
	level, ok := alarms.ParseLevel(value)
	if !ok {
		return "", fmt.Errorf("invalid level %q", value)
	}
	return level, nil
}

// StreamHandler serves the alarm stream as server-sent events.
type StreamHandler struct {
	broker    *EventBroker
	heartbeat time.Duration
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *EventBroker) *StreamHandler {
	return &StreamHandler{broker: broker, heartbeat: 30 * time.Second}
}

// ServeHTTP handles GET /api/v1/alarms/stream?level=L.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	minLevel, err := levelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.broker.Subscribe(minLevel)
	defer h.broker.Unsubscribe(sub)

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case payload, ok := <-sub.C:
			if !ok {
				return
			}
			var head struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(payload, &head)
			fmt.Fprintf(w, "id: %s\nevent: alarm\ndata: %s\n\n", head.ID, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
