package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shibaleo/mcpist/pkg/models"
)

// Memory is an in-memory Store implementation for tests and local dev.
// Grounded on the teacher's map-backed Phase 1 store: a single mutex
// guarding a handful of maps, no secondary indexes.
type Memory struct {
	mu sync.RWMutex

	usersByID   map[string]*models.User
	usersByExt  map[string]string // external_id -> id
	plans       map[string]*models.Plan
	credentials map[string]*models.Credential // userID|moduleName
	oauthApps   map[string]*models.OAuthApp
	toolSettings map[string]*models.ToolSetting // userID|moduleID|toolID
	moduleSettings map[string]*models.ModuleSetting
	apiKeys     map[string]*models.APIKey // id
	apiKeysByKid map[string]string        // kid -> id
	usage       []models.UsageRecord
	prompts     map[string]*models.Prompt // userID|name
	moduleCatalog []models.Module
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		usersByID:      make(map[string]*models.User),
		usersByExt:     make(map[string]string),
		plans:          make(map[string]*models.Plan),
		credentials:    make(map[string]*models.Credential),
		oauthApps:      make(map[string]*models.OAuthApp),
		toolSettings:   make(map[string]*models.ToolSetting),
		moduleSettings: make(map[string]*models.ModuleSetting),
		apiKeys:        make(map[string]*models.APIKey),
		apiKeysByKid:   make(map[string]string),
		prompts:        make(map[string]*models.Prompt),
	}
}

func (m *Memory) Ping(ctx context.Context) error    { return nil }
func (m *Memory) Close() error                      { return nil }
func (m *Memory) Migrate(ctx context.Context) error { return nil }

func credKey(userID, module string) string { return userID + "|" + module }
func toolKey(userID, module, tool string) string { return userID + "|" + module + "|" + tool }
func promptKey(userID, name string) string { return userID + "|" + name }

// ── Users ────────────────────────────────────────────────────

func (m *Memory) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usersByID[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByExt[externalID]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: externalID}
	}
	cp := *m.usersByID[id]
	return &cp, nil
}

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.usersByID[user.ID] = &cp
	m.usersByExt[user.ExternalID] = user.ID
	return nil
}

func (m *Memory) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByID[user.ID]; !ok {
		return &ErrNotFound{Entity: "user", Key: user.ID}
	}
	cp := *user
	m.usersByID[user.ID] = &cp
	return nil
}

// ── Plans ────────────────────────────────────────────────────

func (m *Memory) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "plan", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPlans(ctx context.Context) ([]models.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SeedPlan is a test helper to insert master-data plans directly.
func (m *Memory) SeedPlan(p models.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.plans[p.ID] = &cp
}

// ── Credentials ──────────────────────────────────────────────

func (m *Memory) GetCredential(ctx context.Context, userID, moduleName string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[credKey(userID, moduleName)]
	if !ok {
		return nil, &ErrNotFound{Entity: "credential", Key: credKey(userID, moduleName)}
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Credential
	for _, c := range m.credentials {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleName < out[j].ModuleName })
	return out, nil
}

func (m *Memory) ListAllCredentials(ctx context.Context) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Credential
	for _, c := range m.credentials {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ModuleName < out[j].ModuleName
	})
	return out, nil
}

func (m *Memory) UpsertCredential(ctx context.Context, cred *models.Credential, seed []models.ToolSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cred
	if existing, ok := m.credentials[credKey(cred.UserID, cred.ModuleName)]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	m.credentials[credKey(cred.UserID, cred.ModuleName)] = &cp
	for _, setting := range seed {
		k := toolKey(cred.UserID, cred.ModuleName, setting.ToolID)
		if _, exists := m.toolSettings[k]; exists {
			continue
		}
		cpSetting := setting
		cpSetting.UserID = cred.UserID
		cpSetting.ModuleID = cred.ModuleName
		m.toolSettings[k] = &cpSetting
	}
	return nil
}

func (m *Memory) DeleteCredential(ctx context.Context, userID, moduleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, credKey(userID, moduleName))
	return nil
}

func (m *Memory) SyncModuleCatalog(ctx context.Context, modules []models.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moduleCatalog = append([]models.Module(nil), modules...)
	return nil
}

// ── OAuth Apps ───────────────────────────────────────────────

func (m *Memory) GetOAuthApp(ctx context.Context, provider string) (*models.OAuthApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.oauthApps[provider]
	if !ok {
		return nil, &ErrNotFound{Entity: "oauth_app", Key: provider}
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListOAuthApps(ctx context.Context) ([]models.OAuthApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OAuthApp, 0, len(m.oauthApps))
	for _, a := range m.oauthApps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *Memory) UpsertOAuthApp(ctx context.Context, app *models.OAuthApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *app
	m.oauthApps[app.Provider] = &cp
	return nil
}

func (m *Memory) DeleteOAuthApp(ctx context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.oauthApps, provider)
	return nil
}

// ── Tool Settings ────────────────────────────────────────────

func (m *Memory) ListToolSettings(ctx context.Context, userID, moduleID string) ([]models.ToolSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ToolSetting
	for _, s := range m.toolSettings {
		if s.UserID == userID && s.ModuleID == moduleID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out, nil
}

func (m *Memory) SetToolEnabled(ctx context.Context, userID, moduleID, toolID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := toolKey(userID, moduleID, toolID)
	s, ok := m.toolSettings[k]
	if !ok {
		s = &models.ToolSetting{UserID: userID, ModuleID: moduleID, ToolID: toolID}
		m.toolSettings[k] = s
	}
	s.Enabled = enabled
	return nil
}

// ── Module Settings ──────────────────────────────────────────

func (m *Memory) GetModuleSetting(ctx context.Context, userID, moduleID string) (*models.ModuleSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.moduleSettings[credKey(userID, moduleID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "module_setting", Key: credKey(userID, moduleID)}
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpsertModuleSetting(ctx context.Context, setting *models.ModuleSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *setting
	m.moduleSettings[credKey(setting.UserID, setting.ModuleID)] = &cp
	return nil
}

// ── API Keys ─────────────────────────────────────────────────

func (m *Memory) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetAPIKeyByKid(ctx context.Context, jwtKid string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.apiKeysByKid[jwtKid]
	if !ok {
		return nil, &ErrNotFound{Entity: "api_key", Key: jwtKid}
	}
	cp := *m.apiKeys[id]
	return &cp, nil
}

func (m *Memory) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.apiKeys[key.ID] = &cp
	m.apiKeysByKid[key.JWTKid] = key.ID
	return nil
}

func (m *Memory) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return &ErrNotFound{Entity: "api_key", Key: id}
	}
	k.LastUsedAt = &at
	return nil
}

func (m *Memory) DeleteAPIKey(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID {
		return &ErrNotFound{Entity: "api_key", Key: id}
	}
	delete(m.apiKeysByKid, k.JWTKid)
	delete(m.apiKeys, id)
	return nil
}

// ── Usage ────────────────────────────────────────────────────

func (m *Memory) RecordUsage(ctx context.Context, record *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, *record)
	return nil
}

func (m *Memory) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.usage {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SummarizeUsage(ctx context.Context, userID string, start, end time.Time) (*models.UsageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := &models.UsageSummary{ByModule: make(map[string]int), Start: start, End: end}
	for _, r := range m.usage {
		if r.UserID != userID {
			continue
		}
		if r.CreatedAt.Before(start) || r.CreatedAt.After(end) {
			continue
		}
		summary.TotalUsed++
		for _, d := range r.Details {
			summary.ByModule[d.Module]++
		}
	}
	return summary, nil
}

// ── Prompts ──────────────────────────────────────────────────

func (m *Memory) ListPrompts(ctx context.Context, userID string) ([]models.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Prompt
	for _, p := range m.prompts {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetPrompt(ctx context.Context, userID, name string) (*models.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[promptKey(userID, name)]
	if !ok {
		return nil, &ErrNotFound{Entity: "prompt", Key: name}
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpsertPrompt(ctx context.Context, prompt *models.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *prompt
	m.prompts[promptKey(prompt.UserID, prompt.Name)] = &cp
	return nil
}

func (m *Memory) DeletePrompt(ctx context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prompts, promptKey(userID, name))
	return nil
}

var _ Store = (*Memory)(nil)
