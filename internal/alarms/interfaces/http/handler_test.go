package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/audit"
)

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type stubService struct {
	mu        sync.Mutex
	scenarios map[string]alarms.Scenario
	events    []alarms.Event
}

func newStubService() *stubService {
	return &stubService{
		scenarios: map[string]alarms.Scenario{
			"S001": {ID: "S001", Name: "Membrane pressure high", Level: alarms.LevelWarning, Enabled: true},
		},
		events: []alarms.Event{
			{ID: "evt-old", ScenarioID: "S001", Level: alarms.LevelWarning, TriggeredAt: now.Add(-2 * time.Hour)},
			{ID: "evt-new", ScenarioID: "S002", Level: alarms.LevelCritical, TriggeredAt: now.Add(-time.Hour)},
		},
	}
}

func (s *stubService) Scenarios() []alarms.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alarms.Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, sc)
	}
	return out
}

func (s *stubService) Scenario(id string) (alarms.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return alarms.Scenario{}, alarms.ErrScenarioNotFound
	}
	return sc, nil
}

func (s *stubService) SetEnabled(id string, enabled bool) (alarms.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return alarms.Scenario{}, alarms.ErrScenarioNotFound
	}
	sc.Enabled = enabled
	s.scenarios[id] = sc
	return sc, nil
}

func (s *stubService) History(since time.Time) []alarms.Event {
	var out []alarms.Event
	for _, e := range s.events {
		if !e.TriggeredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

type memoryAudit struct {
	entries []audit.Entry
}

func (m *memoryAudit) Log(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *stubService) {
	t.Helper()
	svc := newStubService()
	h, err := NewHandler(svc, opts...)
	require.NoError(t, err)
	h.now = func() time.Time { return now }
	return h, svc
}

func TestScenarioGetAndToggle(t *testing.T) {
	log := &memoryAudit{}
	h, svc := newTestHandler(t, WithAuditLogger(log))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scenarios/S001", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scenarios/S001/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got alarms.Scenario
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Enabled)
	assert.False(t, svc.scenarios["S001"].Enabled)
	require.Len(t, log.entries, 1)
	assert.Equal(t, audit.ActionScenarioDisable, log.entries[0].Action)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scenarios/S404/enable", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scenarios/S001/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryNewestFirstWithFilters(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var events []alarms.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "evt-new", events[0].ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/history?hours=1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/history?level=critical", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, alarms.LevelCritical, events[0].Level)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/history?hours=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportFormats(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/export.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	broker := NewEventBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	require.Eventually(t, func() bool { return broker.Clients() == 1 }, time.Second, 10*time.Millisecond)
	broker.Notify(context.Background(), alarms.Event{ID: "evt-1", ScenarioID: "S002"})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {\"id\"") {
			break
		}
	}
	assert.Contains(t, line, `"scenario_id":"S002"`)
}

func TestBrokerFiltersByLevel(t *testing.T) {
	broker := NewEventBroker()
	critical := broker.Subscribe(alarms.LevelCritical)
	all := broker.Subscribe("")
	defer broker.Unsubscribe(critical)
	defer broker.Unsubscribe(all)

	broker.Notify(context.Background(), alarms.Event{ID: "evt-warn", Level: alarms.LevelWarning})
	broker.Notify(context.Background(), alarms.Event{ID: "evt-crit", Level: alarms.LevelCritical})

	assert.Len(t, critical.C, 1)
	assert.Len(t, all.C, 2)

	for i := 0; i < subscriberBuffer; i++ {
		broker.Notify(context.Background(), alarms.Event{ID: "evt-flood", Level: alarms.LevelEmergency})
	}
	assert.Equal(t, int64(1), critical.Dropped())
}

func TestStreamRejectsUnknownLevel(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(NewEventBroker()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/stream?level=loud", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketDeliversEvents(t *testing.T) {
	broker := NewEventBroker()
	server := httptest.NewServer(NewWebSocketHandler(broker, nil, nil))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.Clients() == 1 }, time.Second, 10*time.Millisecond)
	broker.Notify(context.Background(), alarms.Event{ID: "evt-ws", ScenarioID: "S001"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var event alarms.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "evt-ws", event.ID)
}
