package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/keys"
)

// WellKnown serves the Gateway's own signing-key discovery document and
// proxies the IdP's OAuth metadata documents so MCP clients doing
// RFC 9728 resource discovery land on real endpoints without the
// Gateway needing to replicate the IdP's authorization server config.
type WellKnown struct {
	signer           *keys.KeyPair
	resourceURL      string
	authServerURL    string
	idpMetadataURL   string
	client           *http.Client
}

// NewWellKnown builds the well-known endpoint set. idpMetadataURL is the
// IdP's own RFC 8414 authorization server metadata document, proxied
// verbatim; resourceURL/authServerURL are this deployment's own
// canonical resource and authorization server identifiers as required
// by RFC 9728.
func NewWellKnown(signer *keys.KeyPair, resourceURL, authServerURL, idpMetadataURL string) *WellKnown {
	return &WellKnown{
		signer:         signer,
		resourceURL:    resourceURL,
		authServerURL:  authServerURL,
		idpMetadataURL: idpMetadataURL,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

// JWKS serves GET /.well-known/jwks.json — the Gateway's own public key,
// which the Protocol Server fetches to verify Gateway Tokens.
func (wk *WellKnown) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wk.signer.PublicJWKS())
}

// ProtectedResource serves GET /v1/mcp/.well-known/oauth-protected-resource
// per RFC 9728, pointing MCP clients at the authorization server that
// issues tokens accepted here.
func (wk *WellKnown) ProtectedResource(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"resource":                 wk.resourceURL,
		"authorization_servers":    []string{wk.authServerURL},
		"scopes_supported":         []string{"openid", "profile", "email"},
		"bearer_methods_supported": []string{"header"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// AuthorizationServer serves GET /v1/mcp/.well-known/oauth-authorization-server
// by proxying the IdP's own RFC 8414 metadata document. If the IdP can't
// be reached, responds 502 rather than fabricating a document.
func (wk *WellKnown) AuthorizationServer(w http.ResponseWriter, r *http.Request) {
	if wk.idpMetadataURL == "" {
		http.Error(w, "gateway: no idp metadata configured", http.StatusNotFound)
		return
	}
	resp, err := wk.client.Get(wk.idpMetadataURL)
	if err != nil {
		log.Error().Err(err).Msg("fetch idp authorization server metadata failed")
		http.Error(w, "gateway: idp metadata unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
