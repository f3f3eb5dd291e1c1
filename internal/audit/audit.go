package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"plantwatch/internal/auth"
)

// Actions recorded by the API.
const (
	ActionScenarioEnable  = "scenario.enable"
	ActionScenarioDisable = "scenario.disable"
	ActionThresholdUpdate = "threshold.update"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	Site          string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// FromRequest builds an entry from the authenticated request.
func FromRequest(r *http.Request, action, resourceType, resourceID string, metadata any) Entry {
	entry := Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if r != nil {
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			entry.Site = id.Site
			entry.Actor = id.Subject
			entry.Role = string(id.Role)
		}
		entry.IP = ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}

// NewID generates a random audit id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
