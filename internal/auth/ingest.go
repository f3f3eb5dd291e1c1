package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"

	maxSignedBody = 1 << 20
)

var (
	errIngestUnsigned = errors.New("missing ingest signature")
	errIngestExpired  = errors.New("ingest signature expired")
	errIngestMismatch = errors.New("invalid ingest signature")
)

// IngestAuthMiddleware checks sensor pushes signed by field gateways with
// hex(HMAC-SHA256(secret, timestamp + "\n" + body)).
type IngestAuthMiddleware struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware. maxSkew <= 0
// disables the timestamp window.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{secret: secret, maxSkew: maxSkew, now: time.Now}
}

// Wrap rejects unsigned, stale or tampered requests with 401.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBody))
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		if err := m.verify(r.Header, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) verify(header http.Header, body []byte) error {
	timestamp := strings.TrimSpace(header.Get(HeaderIngestTimestamp))
	signature := strings.ToLower(strings.TrimSpace(header.Get(HeaderIngestSignature)))
	if timestamp == "" || signature == "" {
		return errIngestUnsigned
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ingest timestamp %q", timestamp)
	}
	if m.maxSkew > 0 {
		skew := m.now().Sub(time.Unix(seconds, 0))
		if skew > m.maxSkew || skew < -m.maxSkew {
			return errIngestExpired
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(m.secret, timestamp, body))) {
		return errIngestMismatch
	}
	return nil
}

// SignIngest returns the signature header value for body sent at timestamp.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
