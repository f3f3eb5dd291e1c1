package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/auth"
	telemetry "plantwatch/internal/telemetry/domain"
)

type memorySink struct {
	mu       sync.Mutex
	readings []telemetry.Reading
}

func (s *memorySink) Put(reading telemetry.Reading) {
	s.mu.Lock()
	s.readings = append(s.readings, reading)
	s.mu.Unlock()
}

func TestIngestSingleAndBatch(t *testing.T) {
	sink := &memorySink{}
	h, err := NewIngestHandler(sink, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString(`{"values":{"TMP":2.6}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.readings, 1)
	assert.Equal(t, fixed, sink.readings[0].At)

	body := `{"points":[{"ts":1772352000000,"values":{"DP":1.3,"FLOW":70}},{"ts":1772352060,"values":{"COND":460}}]}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":3`)
	require.Len(t, sink.readings, 4)
	assert.Equal(t, time.UnixMilli(1772352000000).UTC(), sink.readings[1].At)
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	h, err := NewIngestHandler(&memorySink{}, nil)
	require.NoError(t, err)

	for _, body := range []string{`not json`, `{}`, `{"points":[{"ts":1,"values":{}}]}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ingest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestBehindSignature(t *testing.T) {
	sink := &memorySink{}
	h, err := NewIngestHandler(sink, nil)
	require.NoError(t, err)
	secret := []byte("gateway-secret")
	handler := auth.NewIngestAuthMiddleware(secret, time.Minute).Wrap(h)

	body := []byte(`{"values":{"PH":7.1}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	req.Header.Set(auth.HeaderIngestTimestamp, ts)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(secret, ts, body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.readings, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	req.Header.Set(auth.HeaderIngestTimestamp, ts)
	req.Header.Set(auth.HeaderIngestSignature, "deadbeef")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
