// Package apikeys issues and manages the long-lived Ed25519-signed JWT API
// keys end users hold (prefixed "mpt_"), and the server-side metadata rows
// (internal/store.APIKeyStore) that back revocation.
//
// Grounded on internal/keys for signing/verification and on the teacher's
// auth.APIKeyProvider for the "prefix, then validate" shape, adapted from
// a static env-var key list to per-user signed JWTs with a DB-backed
// revocation check.
package apikeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Prefix is prepended to every issued API key so it's recognizable as
// belonging to mcpist before any JWT parsing happens.
const Prefix = "mpt_"

// Service issues and revokes API keys for one user, signing JWTs with the
// Protocol Server's own Ed25519 key pair.
type Service struct {
	signer *keys.KeyPair
	db     store.APIKeyStore
}

// New builds an apikeys Service.
func New(signer *keys.KeyPair, db store.APIKeyStore) *Service {
	return &Service{signer: signer, db: db}
}

// Issue creates a new API key for userID, persists its metadata row, and
// returns the bearer token ("mpt_<jwt>") — the only time the raw token is
// available; only the JWTKid/KeyPrefix survive server-side.
func (s *Service) Issue(ctx context.Context, userID, displayName string, expiresAt *time.Time) (string, *models.APIKey, error) {
	keyID := uuid.NewString()
	token, err := GenerateAPIKeyJWT(s.signer, userID, keyID, expiresAt)
	if err != nil {
		return "", nil, err
	}

	meta := &models.APIKey{
		ID:          keyID,
		UserID:      userID,
		JWTKid:      keyID,
		KeyPrefix:   Prefix + token[len(Prefix):len(Prefix)+8],
		DisplayName: displayName,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	if err := s.db.CreateAPIKey(ctx, meta); err != nil {
		return "", nil, fmt.Errorf("apikeys: create: %w", err)
	}
	return token, meta, nil
}

// GenerateAPIKeyJWT signs a bare "mpt_<jwt>" token with claims
// {sub: userID, kid: keyID, iat, exp?}. Exported standalone (not a Service
// method) so tests can exercise generation without a store.
func GenerateAPIKeyJWT(signer *keys.KeyPair, userID, keyID string, expiresAt *time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"kid": keyID,
		"iat": time.Now().Unix(),
	}
	if expiresAt != nil {
		claims["exp"] = expiresAt.Unix()
	}
	signed, err := signer.SignClaims(claims)
	if err != nil {
		return "", fmt.Errorf("apikeys: sign: %w", err)
	}
	return Prefix + signed, nil
}

// List returns a user's API key metadata (never the raw token).
func (s *Service) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	return s.db.ListAPIKeys(ctx, userID)
}

// Revoke deletes the metadata row for id, scoped to userID. Callers (the
// Gateway's revocation cache) must invalidate their own cache entry
// immediately after this returns — deletion here alone doesn't shrink a
// TTL cache that already answered "valid" for this id.
func (s *Service) Revoke(ctx context.Context, userID, id string) error {
	return s.db.DeleteAPIKey(ctx, userID, id)
}

// StripPrefix removes the "mpt_" prefix from a bearer token, returning the
// bare JWT and whether the prefix was present.
func StripPrefix(token string) (string, bool) {
	if !strings.HasPrefix(token, Prefix) {
		return "", false
	}
	return strings.TrimPrefix(token, Prefix), true
}
