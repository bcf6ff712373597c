// Package models defines the core data types shared across the mcpist
// gateway: users, plans, modules, credentials, usage, and prompts.
//
// Mirrors the teacher's pkg/models layout (exported so both the Gateway
// and Protocol Server processes, and any future enterprise overlay, can
// depend on the same wire types without importing internal/ packages).
package models

import "time"

// AccountStatus is the lifecycle state of a User.
type AccountStatus string

const (
	AccountPreActive AccountStatus = "pre_active"
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Role distinguishes administrative users from regular end users.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an end user of the gateway, created on first successful
// authentication and mutated by profile updates and billing webhooks.
type User struct {
	ID            string                 `db:"id" json:"id"`
	ExternalID    string                 `db:"external_id" json:"external_id"`
	Email         string                 `db:"email" json:"email"`
	AccountStatus AccountStatus          `db:"account_status" json:"account_status"`
	PlanID        string                 `db:"plan_id" json:"plan_id"`
	Role          Role                   `db:"role" json:"role"`
	Settings      map[string]interface{} `db:"settings" json:"settings"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// Plan is read-only master data describing a subscription tier.
type Plan struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	DailyLimit int    `db:"daily_limit" json:"daily_limit"`
}

// ModuleStatus is the lifecycle state of a Module.
type ModuleStatus string

const (
	ModuleActive     ModuleStatus = "active"
	ModuleBeta       ModuleStatus = "beta"
	ModuleDeprecated ModuleStatus = "deprecated"
)

// ToolAnnotations carries semantic hints about a tool's behavior. Absent
// fields take the documented defaults: readOnly=false, destructive=true,
// idempotent=false, openWorld=true.
type ToolAnnotations struct {
	ReadOnlyHint    *bool `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool `json:"openWorldHint,omitempty"`
}

// ReadOnly resolves the ReadOnlyHint default (false).
func (a ToolAnnotations) ReadOnly() bool { return a.ReadOnlyHint != nil && *a.ReadOnlyHint }

// Destructive resolves the DestructiveHint default (true).
func (a ToolAnnotations) Destructive() bool { return a.DestructiveHint == nil || *a.DestructiveHint }

// Idempotent resolves the IdempotentHint default (false).
func (a ToolAnnotations) Idempotent() bool { return a.IdempotentHint != nil && *a.IdempotentHint }

// OpenWorld resolves the OpenWorldHint default (true).
func (a ToolAnnotations) OpenWorld() bool { return a.OpenWorldHint == nil || *a.OpenWorldHint }

// IsDangerous reports whether a tool is destructive and not read-only —
// the invariant used by the console to flag tools needing extra confirmation.
func IsDangerous(a ToolAnnotations) bool {
	return !a.ReadOnly() && a.Destructive()
}

// ToolDescriptor is the immutable description of one module operation.
type ToolDescriptor struct {
	ID          string                 `json:"id"` // "{module}:{name}"
	Name        string                 `json:"name"`
	Descriptions map[string]string     `json:"descriptions"`
	Annotations ToolAnnotations        `json:"annotations"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Module is a named bundle of tool descriptors for one third-party service.
// Loaded once at process start; immutable thereafter.
type Module struct {
	Name         string            `json:"name"`
	Status       ModuleStatus      `json:"status"`
	Tools        []ToolDescriptor  `json:"tools"`
	Descriptions map[string]string `json:"descriptions"`
}

// ToolSetting records whether one user has a given tool enabled. Created
// on first credential upsert for the module; seeded with read-only tools
// enabled and everything else disabled.
type ToolSetting struct {
	UserID   string `db:"user_id" json:"user_id"`
	ModuleID string `db:"module_id" json:"module_id"`
	ToolID   string `db:"tool_id" json:"tool_id"`
	Enabled  bool   `db:"enabled" json:"enabled"`
}

// DefaultToolSettings builds the seed rows written alongside a user's
// first credential for a module: read-only tools enabled, all others
// disabled.
func DefaultToolSettings(m Module) []ToolSetting {
	out := make([]ToolSetting, 0, len(m.Tools))
	for _, td := range m.Tools {
		out = append(out, ToolSetting{
			ModuleID: m.Name,
			ToolID:   td.ID,
			Enabled:  td.Annotations.ReadOnly(),
		})
	}
	return out
}

// ToolSettingsMap folds a flat settings list into module → tool id →
// enabled. On duplicate (module, tool) pairs the last occurrence wins.
func ToolSettingsMap(settings []ToolSetting) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, s := range settings {
		tools, ok := out[s.ModuleID]
		if !ok {
			tools = make(map[string]bool)
			out[s.ModuleID] = tools
		}
		tools[s.ToolID] = s.Enabled
	}
	return out
}

// ModuleSetting is an optional per-module user annotation (free-text
// description shown in place of the module's default description).
type ModuleSetting struct {
	UserID      string `db:"user_id" json:"user_id"`
	ModuleID    string `db:"module_id" json:"module_id"`
	Description string `db:"description" json:"description"`
}

// AuthType enumerates the shapes a Credential's plaintext blob may take.
type AuthType string

const (
	AuthOAuth1  AuthType = "oauth1"
	AuthOAuth2  AuthType = "oauth2"
	AuthAPIKey  AuthType = "api_key"
	AuthBasic   AuthType = "basic"
)

// CredentialPlaintext is the decrypted shape of a Credential blob. Only the
// fields relevant to AuthType are populated; the map form keeps this
// forward-compatible with provider-specific extra fields.
type CredentialPlaintext struct {
	AuthType     AuthType `json:"auth_type"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	ExpiresAt    *int64   `json:"expires_at,omitempty"` // Unix seconds
	APIKey       string   `json:"api_key,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Credential is the persisted, encrypted-at-rest credential row for one
// (user, module) pair.
type Credential struct {
	UserID        string    `db:"user_id" json:"user_id"`
	ModuleName    string    `db:"module_name" json:"module_name"`
	EncryptedBlob string    `db:"encrypted_blob" json:"-"`
	KeyVersion    int       `db:"key_version" json:"key_version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// OAuthApp holds the per-provider OAuth2 client configuration used by the
// Token Broker when refreshing expiring access tokens.
type OAuthApp struct {
	Provider              string `db:"provider" json:"provider"`
	ClientID               string `db:"client_id" json:"client_id"`
	EncryptedClientSecret string `db:"encrypted_client_secret" json:"-"`
	RedirectURI            string `db:"redirect_uri" json:"redirect_uri"`
	Enabled                bool  `db:"enabled" json:"enabled"`
}

// APIKey is the server-side metadata row for an issued Ed25519-signed JWT
// API key. The signed token itself is never stored.
type APIKey struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	JWTKid      string     `db:"jwt_kid" json:"jwt_kid"`
	KeyPrefix   string     `db:"key_prefix" json:"key_prefix"`
	DisplayName string     `db:"display_name" json:"display_name"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// MetaTool enumerates the two meta-tools that produce usage records.
type MetaTool string

const (
	MetaToolRun   MetaTool = "run"
	MetaToolBatch MetaTool = "batch"
)

// UsageDetail describes one module/tool invocation inside a UsageRecord.
type UsageDetail struct {
	Module string `json:"module"`
	Tool   string `json:"tool"`
	TaskID string `json:"task_id,omitempty"`
}

// UsageRecord is an append-only log entry for one run call or one
// successful batch sub-task.
type UsageRecord struct {
	ID        string        `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"user_id"`
	MetaTool  MetaTool      `db:"meta_tool" json:"meta_tool"`
	RequestID string        `db:"request_id" json:"request_id"`
	Details   []UsageDetail `db:"details" json:"details"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// UsageSummary is the aggregation result for a date range.
type UsageSummary struct {
	TotalUsed int            `json:"total_used"`
	ByModule  map[string]int `json:"by_module"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
}

// Prompt is a versioned, user-owned prompt exposed via MCP prompts/*.
type Prompt struct {
	ID          string  `db:"id" json:"id"`
	UserID      string  `db:"user_id" json:"user_id"`
	ModuleID    *string `db:"module_id" json:"module_id,omitempty"`
	Name        string  `db:"name" json:"name"`
	Description string  `db:"description" json:"description,omitempty"`
	Content     string  `db:"content" json:"content"`
	Enabled     bool    `db:"enabled" json:"enabled"`
}

// GatewayTokenClaims are the ephemeral claims carried by a Gateway Token.
// Exactly one of UserID/ExternalID is populated.
type GatewayTokenClaims struct {
	Issuer     string `json:"iss"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
	UserID     string `json:"user_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// UserContext is the per-request, derived authorization context computed
// by the Authorizer from live DB reads.
type UserContext struct {
	UserID             string
	AccountStatus      AccountStatus
	PlanID             string
	DailyUsed          int
	DailyLimit         int
	EnabledModules     []string
	EnabledTools       map[string][]string // module -> ["module:tool", ...]
	ModuleDescriptions map[string]string
	RequestID          string
}

// HasModule reports whether module is a key of EnabledTools, an O(1)
// map lookup.
func (c *UserContext) HasModule(module string) bool {
	_, ok := c.EnabledTools[module]
	return ok
}

// HasTool reports whether "module:tool" is present in EnabledTools[module].
func (c *UserContext) HasTool(module, toolID string) bool {
	for _, id := range c.EnabledTools[module] {
		if id == toolID {
			return true
		}
	}
	return false
}
