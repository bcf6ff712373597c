package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/mcp"
	"github.com/shibaleo/mcpist/internal/ratelimit"
)

// NewRouter assembles the Protocol Server's HTTP surface: the MCP
// endpoint, the /v1/me and /v1/admin management API, and the well-known
// JWKS document. Everything under /v1 requires a Gateway Token — this
// process never accepts raw Authorization headers.
func NewRouter(h *Handlers, transport *mcp.Transport, az *authz.Authorizer, limiter *ratelimit.Limiter, signer *keys.KeyPair, consoleOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(Recovery)
	r.Use(RequestLogger)
	r.Use(Telemetry)

	if len(consoleOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   consoleOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "mcpist-protocol-server"})
	})

	r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, signer.PublicJWKS())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(GatewayAuth(az))
		r.Use(RateLimit(limiter))

		r.Handle("/mcp", transport)

		r.Route("/me", func(r chi.Router) {
			r.Get("/profile", h.GetProfile)
			r.Put("/settings", h.UpdateSettings)
			r.Post("/register", h.Register)

			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", h.ListCredentials)
				r.Route("/{module}", func(r chi.Router) {
					r.Get("/", h.GetCredential)
					r.Put("/", h.PutCredential)
					r.Delete("/", h.DeleteCredential)
				})
			})

			r.Get("/modules/config", h.GetModulesConfig)
			r.Put("/modules/{name}/tools", h.UpdateModuleTools)
			r.Put("/modules/{name}/description", h.UpdateModuleDescription)

			r.Route("/apikeys", func(r chi.Router) {
				r.Get("/", h.ListAPIKeys)
				r.Post("/", h.CreateAPIKey)
				r.Delete("/{id}", h.DeleteAPIKey)
			})

			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", h.ListPrompts)
				r.Post("/", h.CreatePrompt)
				r.Put("/{id}", h.UpdatePrompt)
				r.Delete("/{id}", h.DeletePrompt)
			})

			r.Get("/usage", h.GetUsage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Route("/oauth", func(r chi.Router) {
				r.Get("/apps", h.ListOAuthApps)
				r.Put("/apps/{provider}", h.PutOAuthApp)
				r.Delete("/apps/{provider}", h.DeleteOAuthApp)
				r.Get("/consents", h.ListOAuthConsents)
			})
		})
	})

	return r
}
