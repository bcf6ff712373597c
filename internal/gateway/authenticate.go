package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// Authenticator resolves the end-user credential on an inbound request —
// either an IdP-issued JWT or an mcpist API key — into an Identity, the
// input to Gateway Token minting.
type Authenticator struct {
	idp     *IdPJWKSCache
	apiKeys *APIKeyVerifier
}

// NewAuthenticator builds an Authenticator. Either dependency may be nil
// if that credential path is not configured for this deployment.
func NewAuthenticator(idp *IdPJWKSCache, apiKeys *APIKeyVerifier) *Authenticator {
	return &Authenticator{idp: idp, apiKeys: apiKeys}
}

// Authenticate extracts the bearer credential from r and resolves it to
// an Identity, trying the API-key path first (cheap prefix check) before
// falling back to IdP JWT verification.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("gateway: missing authorization header")
	}
	token := bearerToken(header)
	if token == "" {
		return nil, fmt.Errorf("gateway: empty bearer token")
	}

	if a.apiKeys != nil {
		if id, err := a.apiKeys.Verify(ctx, token); err == nil {
			return id, nil
		}
	}

	if a.idp == nil {
		return nil, fmt.Errorf("gateway: credential is not a recognized api key and no idp is configured")
	}
	claims, err := a.idp.VerifyIdPJWT(token)
	if err != nil {
		return nil, fmt.Errorf("gateway: credential rejected: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("gateway: idp token missing sub")
	}
	email, _ := claims["email"].(string)
	return &Identity{ExternalID: sub, Email: email}, nil
}
