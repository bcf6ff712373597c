package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shibaleo/mcpist/pkg/models"
)

// requireAdmin loads the caller's profile row and rejects non-admins.
// Role isn't part of UserContext (the hot path never needs it), so the
// admin surface pays one extra read.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	uc, ok := currentUser(w, r)
	if !ok {
		return false
	}
	user, err := h.Store.GetUser(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return false
	}
	if user.Role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
		return false
	}
	return true
}

func (h *Handlers) ListOAuthApps(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	apps, err := h.OAuthApps.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if apps == nil {
		apps = []models.OAuthApp{}
	}
	respondJSON(w, http.StatusOK, apps)
}

func (h *Handlers) PutOAuthApp(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	provider := chi.URLParam(r, "provider")
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RedirectURI  string `json:"redirect_uri"`
		Enabled      bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "client_id is required")
		return
	}
	if err := h.OAuthApps.Upsert(r.Context(), provider, req.ClientID, req.ClientSecret, req.RedirectURI, req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "saved"})
}

func (h *Handlers) DeleteOAuthApp(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := h.OAuthApps.Delete(r.Context(), provider); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "deleted"})
}

// ListOAuthConsents reports which users hold OAuth credentials for which
// providers — metadata only, the blobs stay sealed.
func (h *Handlers) ListOAuthConsents(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	creds, err := h.Store.ListAllCredentials(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	type consent struct {
		UserID   string `json:"user_id"`
		Provider string `json:"provider"`
		LinkedAt string `json:"linked_at"`
	}
	out := make([]consent, 0, len(creds))
	for _, c := range creds {
		out = append(out, consent{UserID: c.UserID, Provider: c.ModuleName, LinkedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}
	respondJSON(w, http.StatusOK, out)
}
