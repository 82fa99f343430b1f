// Package auth resolves bearer credentials to a user identity, either from a
// signed JWT or from a server-side session row.
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
}

type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (Identity, error)
}

// Authenticator tries the JWT verifier first and falls back to the session
// store. Either may be nil.
type Authenticator struct {
	verifier TokenVerifier
	sessions SessionLookup
}

func NewAuthenticator(verifier TokenVerifier, sessions SessionLookup) *Authenticator {
	return &Authenticator{verifier: verifier, sessions: sessions}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	if a.verifier != nil {
		id, err := a.verifier.VerifyToken(ctx, token)
		if err == nil {
			return id, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Identity{}, ctxErr
		}
	}

	if a.sessions != nil {
		id, err := a.sessions.LookupSession(ctx, token)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrInvalidToken
}
