package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shibaleo/mcpist/internal/keys"
)

// GatewayTokenTTL is the lifetime stamped into every minted Gateway Token
// (exp = iat + TTL); the Protocol Server rejects the token once exp has
// passed, allowing 5s of clock skew.
const GatewayTokenTTL = 30 * time.Second

// MintGatewayToken signs a short-lived token the Protocol Server accepts
// in place of the original end-user credential. Exactly one of
// id.UserID or id.ExternalID is carried, per whichever credential path
// resolved the identity.
func MintGatewayToken(signer *keys.KeyPair, id *Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "gateway",
		"iat": now.Unix(),
		"exp": now.Add(GatewayTokenTTL).Unix(),
	}
	switch {
	case id.UserID != "":
		claims["user_id"] = id.UserID
	case id.ExternalID != "":
		claims["external_id"] = id.ExternalID
	default:
		return "", fmt.Errorf("gateway: identity carries neither user_id nor external_id")
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}

	token, err := signer.SignClaims(claims)
	if err != nil {
		return "", fmt.Errorf("gateway: mint gateway token: %w", err)
	}
	return token, nil
}
