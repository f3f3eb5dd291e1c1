package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces the role policy.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{secret: secret, policy: policy}
}

// Wrap applies authentication and role checks to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.authenticate(r)
		if err == nil && !id.Role.Allows(required) {
			err = ErrForbidden
		}
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := ParseJWT(token, m.secret)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	role, _ := ParseRole(claims.Role)
	return Identity{Site: claims.Site, Role: role, Subject: claims.Subject}, nil
}

// bearerToken reads the Authorization header. The alarm stream endpoints also
// accept the token as the access_token query parameter.
func bearerToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if isStreamPath(r.URL.Path) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func isStreamPath(path string) bool {
	return path == "/api/v1/alarms/stream" || path == "/api/v1/alarms/ws"
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="plantwatch"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
