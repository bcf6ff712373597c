package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/apikeys"
	"github.com/shibaleo/mcpist/internal/store"
)

// revocationEntry caches one kid's live/revoked verdict for a bounded
// window so a steady stream of calls on the same key doesn't hit the
// store on every request.
type revocationEntry struct {
	revoked  bool
	cachedAt time.Time
}

// RevocationCache answers "is this API key kid still valid" against
// store.APIKeyStore, short-TTL cached, with explicit invalidation so a
// revoke takes effect immediately rather than waiting out the TTL.
type RevocationCache struct {
	db  store.APIKeyStore
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]revocationEntry
}

// NewRevocationCache builds a cache with the given TTL (spec requires
// revocation to propagate within 30s; callers should keep ttl at or
// below that).
func NewRevocationCache(db store.APIKeyStore, ttl time.Duration) *RevocationCache {
	if ttl <= 0 || ttl > 30*time.Second {
		ttl = 30 * time.Second
	}
	return &RevocationCache{db: db, ttl: ttl, entries: make(map[string]revocationEntry)}
}

// IsRevoked reports whether kid has no live APIKey row (deleted, or
// never existed).
func (c *RevocationCache) IsRevoked(ctx context.Context, kid string) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[kid]
	c.mu.Unlock()
	if ok && time.Since(entry.cachedAt) < c.ttl {
		return entry.revoked, nil
	}

	_, err := c.db.GetAPIKeyByKid(ctx, kid)
	revoked := false
	if err != nil {
		var notFound *store.ErrNotFound
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("gateway: check revocation: %w", err)
		}
		revoked = true
	}

	c.mu.Lock()
	c.entries[kid] = revocationEntry{revoked: revoked, cachedAt: time.Now()}
	c.mu.Unlock()
	return revoked, nil
}

// Invalidate forces the next IsRevoked(kid) to bypass the cache. Call
// this immediately after a key is revoked so revocation is observed
// without waiting out the TTL.
func (c *RevocationCache) Invalidate(kid string) {
	c.mu.Lock()
	delete(c.entries, kid)
	c.mu.Unlock()
}

// TokenVerifier validates a signed token and returns its claims —
// satisfied by keys.Verifier (static set, tests) and keys.RemoteJWKS
// (TTL-cached fetch of the Protocol Server's published JWKS).
type TokenVerifier interface {
	Parse(tokenString string, allowedSkew time.Duration) (jwt.MapClaims, error)
}

// APIKeyVerifier validates mcpist's own "mpt_"-prefixed bearer tokens,
// signed by the Protocol Server's KeyPair, against the revocation cache.
type APIKeyVerifier struct {
	verifier    TokenVerifier
	revocations *RevocationCache
	db          store.APIKeyStore
}

// NewAPIKeyVerifier builds an APIKeyVerifier over the Protocol Server's
// JWKS verifier. db stamps last_used_at on successful verifications.
func NewAPIKeyVerifier(verifier TokenVerifier, revocations *RevocationCache, db store.APIKeyStore) *APIKeyVerifier {
	return &APIKeyVerifier{verifier: verifier, revocations: revocations, db: db}
}

// Identity is what either credential path resolves to before Gateway
// Token minting.
type Identity struct {
	UserID     string
	ExternalID string
	Email      string
}

// Verify checks a raw "mpt_<jwt>" bearer token's signature, expiry, and
// live (non-revoked) status, returning the resolved user identity.
func (v *APIKeyVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	bare, ok := apikeys.StripPrefix(token)
	if !ok {
		return nil, fmt.Errorf("gateway: not an api key token")
	}
	claims, err := v.verifier.Parse(bare, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("gateway: api key invalid: %w", err)
	}

	kid, _ := claims["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("gateway: api key missing kid")
	}
	revoked, err := v.revocations.IsRevoked(ctx, kid)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("gateway: api key revoked")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("gateway: api key missing sub")
	}

	// Best-effort last-used stamp, off the hot path.
	if v.db != nil {
		go func() {
			if err := v.db.TouchAPIKeyLastUsed(context.Background(), kid, time.Now()); err != nil {
				log.Debug().Err(err).Str("api_key_id", kid).Msg("touch api key last_used failed")
			}
		}()
	}
	return &Identity{UserID: sub}, nil
}

// bearerToken extracts the raw token from an Authorization header value,
// stripping a leading "Bearer " if present.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, prefix))
	}
	return strings.TrimSpace(header)
}
