// Package store provides the storage interface and implementations for
// mcpist. An in-memory map-backed store serves tests and local dev; a
// pgx-backed store serves production.
//
// Grounded on agentoven-agentoven's internal/store/store.go: Store composed
// from narrow per-entity sub-interfaces, plus Ping/Close/Migrate and an
// ErrNotFound value type.
package store

import (
	"context"
	"time"

	"github.com/shibaleo/mcpist/pkg/models"
)

// Store is the primary storage interface. All handler and broker code
// depends on this interface so tests can swap in the memory store.
type Store interface {
	UserStore
	PlanStore
	CredentialStore
	OAuthAppStore
	ToolSettingStore
	ModuleSettingStore
	APIKeyStore
	UsageStore
	PromptStore
	ModuleCatalogStore

	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// ── Module Catalog Store ────────────────────────────────────

// ModuleCatalogStore mirrors the registry's (name, status, tools) into
// the database at boot so the console can render tool metadata without
// calling the server.
type ModuleCatalogStore interface {
	SyncModuleCatalog(ctx context.Context, modules []models.Module) error
}

// ── User Store ──────────────────────────────────────────────

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
}

// ── Plan Store ──────────────────────────────────────────────

type PlanStore interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
}

// ── Credential Store ────────────────────────────────────────

type CredentialStore interface {
	GetCredential(ctx context.Context, userID, moduleName string) (*models.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	// ListAllCredentials returns every credential row (metadata; blobs
	// stay encrypted) for the admin consents view.
	ListAllCredentials(ctx context.Context) ([]models.Credential, error)
	// UpsertCredential writes the encrypted blob and, in the same
	// transaction, seeds the given ToolSetting rows for any tool the
	// user doesn't already have a setting for (read-only tools arrive
	// enabled, everything else disabled).
	UpsertCredential(ctx context.Context, cred *models.Credential, seed []models.ToolSetting) error
	DeleteCredential(ctx context.Context, userID, moduleName string) error
}

// ── OAuth App Store ─────────────────────────────────────────

type OAuthAppStore interface {
	GetOAuthApp(ctx context.Context, provider string) (*models.OAuthApp, error)
	ListOAuthApps(ctx context.Context) ([]models.OAuthApp, error)
	UpsertOAuthApp(ctx context.Context, app *models.OAuthApp) error
	DeleteOAuthApp(ctx context.Context, provider string) error
}

// ── Tool Setting Store ──────────────────────────────────────

type ToolSettingStore interface {
	ListToolSettings(ctx context.Context, userID, moduleID string) ([]models.ToolSetting, error)
	SetToolEnabled(ctx context.Context, userID, moduleID, toolID string, enabled bool) error
}

// ── Module Setting Store ────────────────────────────────────

type ModuleSettingStore interface {
	GetModuleSetting(ctx context.Context, userID, moduleID string) (*models.ModuleSetting, error)
	UpsertModuleSetting(ctx context.Context, setting *models.ModuleSetting) error
}

// ── API Key Store ───────────────────────────────────────────

type APIKeyStore interface {
	ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error)
	GetAPIKeyByKid(ctx context.Context, jwtKid string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
	DeleteAPIKey(ctx context.Context, userID, id string) error
}

// ── Usage Store ─────────────────────────────────────────────

type UsageStore interface {
	RecordUsage(ctx context.Context, record *models.UsageRecord) error
	CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error)
	SummarizeUsage(ctx context.Context, userID string, start, end time.Time) (*models.UsageSummary, error)
}

// ── Prompt Store ────────────────────────────────────────────

type PromptStore interface {
	ListPrompts(ctx context.Context, userID string) ([]models.Prompt, error)
	GetPrompt(ctx context.Context, userID, name string) (*models.Prompt, error)
	UpsertPrompt(ctx context.Context, prompt *models.Prompt) error
	DeletePrompt(ctx context.Context, userID, name string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
