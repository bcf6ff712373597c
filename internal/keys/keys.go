// Package keys implements the process-wide Ed25519 Key Service: signing
// Gateway Tokens and API-key JWTs with golang-jwt's EdDSA support, and
// publishing/consuming JWKS documents for the two-hop auth boundary.
//
// Grounded on Abraxas-365-manifesto/pkg/iam/auth/jwt_service.go (JWT
// issuance/validation shape), adapted from HS256 to EdDSA per the spec's
// Ed25519 signing requirement.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyPair is a process's Ed25519 signing identity, published under a
// stable kid so verifiers can select the right public key from a JWKS.
type KeyPair struct {
	Kid        string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// NewKeyPairFromSeed derives a KeyPair from a base64-encoded 32-byte seed,
// so restarts reuse the same identity instead of rotating on every boot.
func NewKeyPairFromSeed(seedB64 string) (*KeyPair, error) {
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{
		Kid:        kidFromPublicKey(pub),
		PrivateKey: priv,
		PublicKey:  pub,
	}, nil
}

// GenerateKeyPair creates a fresh random KeyPair, for tests and
// bootstrapping a seed to put in the environment.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Kid: kidFromPublicKey(pub), PrivateKey: priv, PublicKey: pub}, nil
}

func kidFromPublicKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)[:16]
}

// ── JWKS document ────────────────────────────────────────────

// JWK is one key entry in a JWKS document (RFC 7517, OKP/Ed25519 per RFC 8037).
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// JWKS is a set of public keys published at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS renders this KeyPair as a single-key JWKS document.
func (kp *KeyPair) PublicJWKS() JWKS {
	return JWKS{Keys: []JWK{{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(kp.PublicKey),
		Kid: kp.Kid,
		Use: "sig",
		Alg: "EdDSA",
	}}}
}

// ── Signing ──────────────────────────────────────────────────

// SignClaims signs arbitrary MapClaims with this KeyPair using EdDSA,
// stamping the key's kid into the JWT header so verifiers can select it.
func (kp *KeyPair) SignClaims(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kp.Kid
	return token.SignedString(kp.PrivateKey)
}

// ── Verification against a JWKS ──────────────────────────────

// Verifier resolves a public key by kid and validates EdDSA-signed JWTs
// against it, with no caching of its own — the wrapper that owns
// refresh/TTL policy is RemoteJWKS (remote.go).
type Verifier struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewVerifier builds an empty Verifier; call LoadJWKS to populate it.
func NewVerifier() *Verifier {
	return &Verifier{keys: make(map[string]ed25519.PublicKey)}
}

// LoadJWKS replaces the verifier's known keys with those from a JWKS doc.
func (v *Verifier) LoadJWKS(doc JWKS) error {
	keys := make(map[string]ed25519.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return fmt.Errorf("keys: decode JWK x for kid %s: %w", k.Kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("keys: bad public key length for kid %s", k.Kid)
		}
		keys[k.Kid] = ed25519.PublicKey(raw)
	}
	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	return nil
}

// HasKid reports whether the verifier currently knows about kid.
func (v *Verifier) HasKid(kid string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[kid]
	return ok
}

// Parse validates token signature and standard claims, returning the
// decoded MapClaims. allowedSkew bounds clock drift for exp/iat checks.
func (v *Verifier) Parse(tokenString string, allowedSkew time.Duration) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("keys: unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		v.mu.RLock()
		pub, ok := v.keys[kid]
		v.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("keys: unknown kid %q", kid)
		}
		return pub, nil
	}, jwt.WithLeeway(allowedSkew))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("keys: invalid token")
	}
	return claims, nil
}
