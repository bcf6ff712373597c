package api

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/apikeys"
	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/credentials"
	"github.com/shibaleo/mcpist/internal/oauthapp"
	"github.com/shibaleo/mcpist/internal/prompts"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"

	"github.com/google/uuid"
)

// maxModuleDescriptionLen bounds the user-supplied per-module annotation.
const maxModuleDescriptionLen = 256

// RevocationNotifier is poked when an API key is deleted, so colocated
// gateway caches drop the entry immediately instead of waiting out the
// TTL. Separate-process deployments leave it nil and rely on the TTL.
type RevocationNotifier interface {
	Invalidate(kid string)
}

// Handlers holds the management API's dependencies.
type Handlers struct {
	Store       store.Store
	Credentials *credentials.Store
	OAuthApps   *oauthapp.Store
	APIKeys     *apikeys.Service
	Prompts     *prompts.Service
	Usage       *usage.Recorder
	Registry    *registry.Registry
	KeyVersion  int
	Revocations RevocationNotifier
}

func currentUser(w http.ResponseWriter, r *http.Request) (*models.UserContext, bool) {
	uc, ok := authz.UserFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "MISSING_GATEWAY_TOKEN", "gateway token required")
		return nil, false
	}
	return uc, true
}

// ── Profile & registration ───────────────────────────────────

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.Store.GetUser(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	var settings map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	user, err := h.Store.GetUser(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	user.Settings = settings
	user.UpdatedAt = time.Now()
	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Register is idempotent: the Authorizer already provisioned the user on
// first authentication, so repeated calls return the same id and create
// no duplicate rows.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.Store.GetUser(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":             user.ID,
		"email":          user.Email,
		"account_status": user.AccountStatus,
	})
}

// ── Credentials ──────────────────────────────────────────────

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	creds, err := h.Credentials.List(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if creds == nil {
		creds = []models.Credential{}
	}
	respondJSON(w, http.StatusOK, creds)
}

func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	module := chi.URLParam(r, "module")
	cred, err := h.Store.GetCredential(r.Context(), uc.UserID, module)
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no credential for module "+module)
		return
	}
	// Metadata only; the blob never leaves the store decrypted here.
	respondJSON(w, http.StatusOK, cred)
}

func (h *Handlers) PutCredential(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	module := chi.URLParam(r, "module")
	mod, exists := h.Registry.Module(module)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown module "+module)
		return
	}

	var plain models.CredentialPlaintext
	if err := json.NewDecoder(r.Body).Decode(&plain); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	switch plain.AuthType {
	case models.AuthOAuth1, models.AuthOAuth2, models.AuthAPIKey, models.AuthBasic:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown auth_type")
		return
	}

	seed := models.DefaultToolSettings(mod)
	if err := h.Credentials.Upsert(r.Context(), uc.UserID, module, plain, h.KeyVersion, seed); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"module": module, "status": "linked"})
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	module := chi.URLParam(r, "module")
	if err := h.Credentials.Delete(r.Context(), uc.UserID, module); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"module": module, "status": "deleted"})
}

// ── Module configuration ─────────────────────────────────────

// moduleConfig is the console's read model: one entry per linked module
// with its effective description and per-tool enablement.
type moduleConfig struct {
	Name        string            `json:"name"`
	Status      models.ModuleStatus `json:"status"`
	Description string            `json:"description"`
	Tools       []moduleToolState `json:"tools"`
}

type moduleToolState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	ReadOnly bool   `json:"read_only"`
}

func (h *Handlers) GetModulesConfig(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	creds, err := h.Credentials.List(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	out := make([]moduleConfig, 0, len(creds))
	for _, cred := range creds {
		mod, exists := h.Registry.Module(cred.ModuleName)
		if !exists {
			continue
		}
		settings, err := h.Store.ListToolSettings(r.Context(), uc.UserID, cred.ModuleName)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		enabled := models.ToolSettingsMap(settings)[cred.ModuleName]

		desc := mod.Descriptions["en"]
		if setting, err := h.Store.GetModuleSetting(r.Context(), uc.UserID, cred.ModuleName); err == nil && setting.Description != "" {
			desc = setting.Description
		}

		cfg := moduleConfig{Name: mod.Name, Status: mod.Status, Description: desc}
		for _, td := range mod.Tools {
			cfg.Tools = append(cfg.Tools, moduleToolState{
				ID:       td.ID,
				Name:     td.Name,
				Enabled:  enabled[td.ID],
				ReadOnly: td.Annotations.ReadOnly(),
			})
		}
		out = append(out, cfg)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) UpdateModuleTools(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	module := chi.URLParam(r, "name")
	if _, exists := h.Registry.Module(module); !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown module "+module)
		return
	}

	var req struct {
		EnabledTools  []string `json:"enabled_tools"`
		DisabledTools []string `json:"disabled_tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	for _, toolID := range req.EnabledTools {
		if err := h.Store.SetToolEnabled(r.Context(), uc.UserID, module, toolID, true); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
	}
	for _, toolID := range req.DisabledTools {
		if err := h.Store.SetToolEnabled(r.Context(), uc.UserID, module, toolID, false); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"module": module, "status": "updated"})
}

func (h *Handlers) UpdateModuleDescription(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	module := chi.URLParam(r, "name")
	if _, exists := h.Registry.Module(module); !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown module "+module)
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if utf8.RuneCountInString(req.Description) > maxModuleDescriptionLen {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "description exceeds 256 characters")
		return
	}

	setting := &models.ModuleSetting{UserID: uc.UserID, ModuleID: module, Description: req.Description}
	if err := h.Store.UpsertModuleSetting(r.Context(), setting); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, setting)
}

// ── API keys ─────────────────────────────────────────────────

func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.APIKeys.List(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if list == nil {
		list = []models.APIKey{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		DisplayName string     `json:"display_name"`
		ExpiresAt   *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	token, meta, err := h.APIKeys.Issue(r.Context(), uc.UserID, req.DisplayName, req.ExpiresAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	// The raw token is returned exactly once.
	respondJSON(w, http.StatusCreated, map[string]interface{}{"key": token, "meta": meta})
}

func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.APIKeys.Revoke(r.Context(), uc.UserID, id); err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown api key")
		return
	}
	if h.Revocations != nil {
		h.Revocations.Invalidate(id)
	}
	log.Info().Str("user_id", uc.UserID).Str("api_key_id", id).Msg("api key revoked")
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// ── Prompts ──────────────────────────────────────────────────

func (h *Handlers) ListPrompts(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.Prompts.List(r.Context(), uc.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if list == nil {
		list = []models.Prompt{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	var p models.Prompt
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" || p.Content == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "name and content are required")
		return
	}
	p.ID = uuid.NewString()
	p.UserID = uc.UserID
	if err := h.Prompts.Upsert(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	existing, found := h.promptByID(w, r, uc.UserID)
	if !found {
		return
	}
	var p models.Prompt
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	p.ID = existing.ID
	p.UserID = uc.UserID
	if p.Name == "" {
		p.Name = existing.Name
	}
	if err := h.Prompts.Upsert(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	existing, found := h.promptByID(w, r, uc.UserID)
	if !found {
		return
	}
	if err := h.Prompts.Delete(r.Context(), uc.UserID, existing.Name); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": existing.ID, "status": "deleted"})
}

// promptByID resolves the {id} URL param to the user's prompt, writing
// the 404 itself when absent.
func (h *Handlers) promptByID(w http.ResponseWriter, r *http.Request, userID string) (*models.Prompt, bool) {
	id := chi.URLParam(r, "id")
	list, err := h.Prompts.List(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return nil, false
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], true
		}
	}
	respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown prompt")
	return nil, false
}

// ── Usage ────────────────────────────────────────────────────

func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	uc, ok := currentUser(w, r)
	if !ok {
		return
	}
	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "end must be YYYY-MM-DD")
		return
	}

	summary, err := h.Usage.Summarize(r.Context(), uc.UserID, start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
