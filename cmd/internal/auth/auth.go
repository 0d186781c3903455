// Package auth verifies bearer access tokens and resolves the calling user.
//
// Identity itself (accounts, passwords, sessions) is owned by an external service; bazaar
// only needs to turn a PASETO v4.public token into a numeric user id.
package auth

import (
	"context"
	"errors"
	"time"

	"bazaar/cmd/internal/messaging"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = &messaging.Error{Kind: messaging.ErrUnauthorized, Code: "unauthorized", Message: "missing bearer token"}

	// ErrInvalidToken covers bad signatures, wrong issuer, expiry and malformed claims.
	ErrInvalidToken = &messaging.Error{Kind: messaging.ErrUnauthorized, Code: "invalid_token", Message: "invalid or expired token"}

	// ErrConfig indicates invalid key material or settings.
	ErrConfig = errors.New("auth: invalid configuration")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Authenticator turns a raw bearer token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID > 0
}
