package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/keys"
)

// Handler wires the credential check, Gateway Token minting, and
// proxying into a single http.Handler mounted at the MCP path.
type Handler struct {
	auth            *Authenticator
	signer          *keys.KeyPair
	proxy           *Proxy
	resourceMetaURL string
}

// NewHandler builds the Gateway's edge handler. resourceMetaURL is the
// RFC 9728 protected-resource document advertised on 401s so MCP clients
// can start the linking flow.
func NewHandler(auth *Authenticator, signer *keys.KeyPair, proxy *Proxy, resourceMetaURL string) *Handler {
	return &Handler{auth: auth, signer: signer, proxy: proxy, resourceMetaURL: resourceMetaURL}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = newRequestID()
	}

	identity, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).
			Str("security_event", "gateway_auth_rejected").Msg("security event")
		writeUnauthorized(w, h.resourceMetaURL, err.Error())
		return
	}

	gatewayToken, err := MintGatewayToken(h.signer, identity)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("mint gateway token failed")
		http.Error(w, "gateway: internal error", http.StatusInternalServerError)
		return
	}

	h.proxy.Forward(w, r, gatewayToken, requestID)
}

func writeUnauthorized(w http.ResponseWriter, resourceMetaURL, message string) {
	w.Header().Set("Content-Type", "application/json")
	if resourceMetaURL != "" {
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+resourceMetaURL+`"`)
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcpist"`)
	}
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "authentication_failed",
		"message": message,
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
