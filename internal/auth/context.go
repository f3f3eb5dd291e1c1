package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller of an API request.
type Identity struct {
	Site    string
	Role    Role
	Subject string
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
