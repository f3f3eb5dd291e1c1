package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the plantwatch JWT claims. Site is optional.
type Claims struct {
	Site string `json:"site"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithExpirationRequired(),
)

// ParseJWT verifies an HS256 token and its role. Every failure wraps
// ErrInvalidToken.
func ParseJWT(token string, secret []byte) (*Claims, error) {
	if token == "" || len(secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, ok := ParseRole(claims.Role); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
