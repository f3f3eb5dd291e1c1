package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WebSocketHandler streams alarm events over a websocket.
type WebSocketHandler struct {
	broker   *EventBroker
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler constructs a websocket handler. allowedOrigins empty
// accepts any origin.
func NewWebSocketHandler(broker *EventBroker, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &WebSocketHandler{
		broker: broker,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// ServeHTTP handles GET /api/v1/alarms/ws?level=L.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	minLevel, err := levelFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.broker.Subscribe(minLevel)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub.C, done)
	h.broker.Unsubscribe(sub)
	if n := sub.Dropped(); n > 0 {
		h.logger.Info("websocket client missed events", zap.Int64("dropped", n))
	}
	_ = conn.Close()
}

// readPump discards client messages and tracks pongs until the peer goes away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, ch chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
