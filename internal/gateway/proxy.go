package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// proxyTimeout bounds how long the gateway will wait on the Protocol
// Server before giving up on a forwarded request.
const proxyTimeout = 30 * time.Second

// Proxy forwards authenticated requests to the Protocol Server, swapping
// the original end-user credential for a minted Gateway Token.
type Proxy struct {
	serverURL string
	client    *http.Client
}

// NewProxy builds a Proxy targeting the Protocol Server's base URL.
// timeout <= 0 falls back to the 30s default.
func NewProxy(serverURL string, timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = proxyTimeout
	}
	return &Proxy{
		serverURL: serverURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Forward replays r against the Protocol Server at the same path,
// stripping the original Authorization header and attaching
// X-Gateway-Token and X-Request-ID instead, and copies the upstream
// response back onto w verbatim (status, headers, body).
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, gatewayToken, requestID string) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, p.serverURL+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, "gateway: bad upstream request", http.StatusBadGateway)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Authorization")
	outReq.Header.Set("X-Gateway-Token", gatewayToken)
	outReq.Header.Set("X-Request-ID", requestID)

	resp, err := p.client.Do(outReq)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("proxy to protocol server failed")
		http.Error(w, "gateway: upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("proxy response copy interrupted")
	}
}
