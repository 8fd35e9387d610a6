package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// AuthError is an authentication failure with its wire code.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Code + ": " + e.Message }

// Authenticator validates bearer tokens against the token store and binds
// connections to the token's client identity. When disabled, the caller's
// claimed client_id is accepted as-is.
type Authenticator struct {
	enabled bool
	tokens  store.TokenStore
}

// NewAuthenticator creates the token validator.
func NewAuthenticator(enabled bool, tokens store.TokenStore) *Authenticator {
	return &Authenticator{enabled: enabled, tokens: tokens}
}

// Enabled reports whether token auth is required.
func (a *Authenticator) Enabled() bool { return a.enabled }

// Authenticate resolves the client identity for a connection attempt.
// claimed is the client_id the caller asserts; with auth enabled the token's
// bound identity wins and a mismatched claim is rejected.
func (a *Authenticator) Authenticate(ctx context.Context, claimed, token string) (string, error) {
	if !a.enabled {
		return claimed, nil
	}
	if token == "" {
		return "", &AuthError{Code: protocol.ErrAuthRequired, Message: "bearer token required"}
	}
	t, err := a.tokens.GetToken(ctx, token)
	if err == store.ErrNotFound {
		return "", &AuthError{Code: protocol.ErrAuthInvalid, Message: "unknown token"}
	}
	if err != nil {
		return "", err
	}
	if !t.Valid(time.Now().UTC()) {
		return "", &AuthError{Code: protocol.ErrAuthInvalid, Message: "token expired or revoked"}
	}
	if claimed != "" && claimed != t.ClientID {
		return "", &AuthError{Code: protocol.ErrAuthInvalid, Message: "token is bound to a different client"}
	}
	return t.ClientID, nil
}
