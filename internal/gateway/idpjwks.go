// Package gateway implements the edge Gateway: it terminates end-user
// credentials (IdP JWT or "mpt_" API key), mints a short-lived Gateway
// Token, and proxies the request to the Protocol Server.
//
// Grounded on the teacher's JWKS-caching shape (none exists verbatim in
// the teacher repo; adapted from its read-mostly-cache-with-RWMutex
// pattern used elsewhere, e.g. internal/catalog.Catalog) and on the real
// mcpist server's own gatewayVerifier/WORKER_JWKS_URL wiring
// (other_examples/.../cmd/server/main.go) for the two-hop boundary shape.
package gateway

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// jwk is one RSA or OKP public key entry in a JWKS document. The IdP is
// expected to publish RS256 keys (the common case for OIDC providers);
// unsupported key types are skipped rather than erroring the whole fetch.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

// IdPJWKSCache fetches and caches the external identity provider's JWKS,
// refetching on a TTL and immediately on an unknown kid so key rotation
// on the IdP side doesn't require a gateway restart.
type IdPJWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewIdPJWKSCache builds a cache for the IdP's JWKS endpoint.
func NewIdPJWKSCache(url string, ttl time.Duration) *IdPJWKSCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdPJWKSCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Key resolves a public key by kid, refetching immediately if the kid is
// unknown. If the refetch itself fails and a cached key already exists
// under that kid (e.g. a transient network blip after a prior successful
// fetch), the stale cached key is used rather than failing the request.
func (c *IdPJWKSCache) Key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	stale := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		if ok {
			log.Warn().Err(err).Str("kid", kid).Msg("idp jwks refetch failed, using cached key")
			return key, nil
		}
		return nil, fmt.Errorf("gateway: fetch idp jwks: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown idp kid %q", kid)
	}
	return key, nil
}

func (c *IdPJWKSCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("idp jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			log.Warn().Err(err).Str("kid", k.Kid).Msg("skipping malformed idp jwk")
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

// VerifyIdPJWT validates an RS256 JWT issued by the external IdP and
// returns its claims.
func (c *IdPJWKSCache) VerifyIdPJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return c.Key(kid)
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("gateway: invalid idp token")
	}
	return claims, nil
}
