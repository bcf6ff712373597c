package keys

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultJWKSCacheTTL is how long a fetched JWKS document is trusted
// before the next Parse triggers a background-free, in-band refetch.
const DefaultJWKSCacheTTL = 5 * time.Minute

// RemoteJWKS keeps a Verifier fresh against a JWKS URL: documents cache
// for the TTL, an unknown kid forces an immediate refetch (key rotation),
// and a failed refetch falls back to whatever keys were cached last.
type RemoteJWKS struct {
	url    string
	ttl    time.Duration
	client *http.Client

	verifier *Verifier

	mu        sync.Mutex
	fetchedAt time.Time
}

// NewRemoteJWKS builds a RemoteJWKS over url. The first fetch is lazy,
// on the first Parse, so construction never blocks boot on the network.
func NewRemoteJWKS(url string, ttl time.Duration, client *http.Client) *RemoteJWKS {
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteJWKS{url: url, ttl: ttl, client: client, verifier: NewVerifier()}
}

// Parse validates an EdDSA JWT against the remote key set, refetching
// the JWKS when the cache is stale or the token's kid is unknown.
func (r *RemoteJWKS) Parse(tokenString string, allowedSkew time.Duration) (jwt.MapClaims, error) {
	kid := peekKid(tokenString)

	r.mu.Lock()
	stale := time.Since(r.fetchedAt) > r.ttl
	unknown := kid != "" && !r.verifier.HasKid(kid)
	if stale || unknown {
		if err := r.fetchLocked(); err != nil && r.fetchedAt.IsZero() {
			// No cached keys to fall back on.
			r.mu.Unlock()
			return nil, fmt.Errorf("keys: fetch jwks %s: %w", r.url, err)
		}
	}
	r.mu.Unlock()

	return r.verifier.Parse(tokenString, allowedSkew)
}

// fetchLocked refetches the JWKS document. On failure the previously
// loaded keys stay in place; the error is returned for the caller to
// decide whether a cached set exists to fall back on.
func (r *RemoteJWKS) fetchLocked() error {
	resp, err := r.client.Get(r.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keys: jwks endpoint returned %d", resp.StatusCode)
	}
	var doc JWKS
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}
	if err := r.verifier.LoadJWKS(doc); err != nil {
		return err
	}
	r.fetchedAt = time.Now()
	return nil
}

// peekKid decodes just the JWT header to learn which kid the token
// claims, without verifying anything.
func peekKid(tokenString string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	kid, _ := token.Header["kid"].(string)
	return kid
}
