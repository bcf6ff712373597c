package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter assembles the Gateway's edge surface: the well-known
// discovery documents (unauthenticated) and everything under /v1, which
// is authenticated and proxied to the Protocol Server.
func NewRouter(h *Handler, wk *WellKnown, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"mcpist-gateway"}`))
	})

	r.Get("/.well-known/jwks.json", wk.JWKS)
	r.Get("/v1/mcp/.well-known/oauth-protected-resource", wk.ProtectedResource)
	r.Get("/v1/mcp/.well-known/oauth-authorization-server", wk.AuthorizationServer)

	// Everything else under /v1 — the MCP endpoint and the management
	// API — is authenticated here and forwarded with a Gateway Token.
	r.Handle("/v1/*", h)

	return r
}
