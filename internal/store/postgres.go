package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/pkg/models"
)

// Postgres implements Store on top of pgx/v5. Grounded on the teacher's
// vectorstore.PgvectorStore: pgxpool.New + Ping + idempotent DDL migrate,
// parameterized INSERT ... ON CONFLICT for upserts.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connURL and runs migrations.
func NewPostgres(ctx context.Context, connURL string, maxConns int) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	log.Info().Msg("postgres store initialized")
	return p, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p *Postgres) Close() error                   { p.pool.Close(); return nil }

func (p *Postgres) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		external_id    TEXT NOT NULL UNIQUE,
		email          TEXT NOT NULL DEFAULT '',
		account_status TEXT NOT NULL DEFAULT 'pre_active',
		plan_id        TEXT NOT NULL DEFAULT 'free',
		role           TEXT NOT NULL DEFAULT 'user',
		settings       JSONB NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS plans (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		daily_limit INT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		user_id        TEXT NOT NULL,
		module_name    TEXT NOT NULL,
		encrypted_blob TEXT NOT NULL,
		key_version    INT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, module_name)
	);

	CREATE TABLE IF NOT EXISTS oauth_apps (
		provider                TEXT PRIMARY KEY,
		client_id               TEXT NOT NULL,
		encrypted_client_secret TEXT NOT NULL,
		redirect_uri            TEXT NOT NULL DEFAULT '',
		enabled                 BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS tool_settings (
		user_id   TEXT NOT NULL,
		module_id TEXT NOT NULL,
		tool_id   TEXT NOT NULL,
		enabled   BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, module_id, tool_id)
	);

	CREATE TABLE IF NOT EXISTS module_settings (
		user_id     TEXT NOT NULL,
		module_id   TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, module_id)
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		jwt_kid      TEXT NOT NULL UNIQUE,
		key_prefix   TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		expires_at   TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys (user_id);

	CREATE TABLE IF NOT EXISTS usage_records (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		meta_tool  TEXT NOT NULL,
		request_id TEXT NOT NULL,
		details    JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage_records (user_id, created_at);

	CREATE TABLE IF NOT EXISTS module_catalog (
		name       TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		tools      JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS prompts (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		module_id   TEXT,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (user_id, name)
	);
	`
	_, err := p.pool.Exec(ctx, ddl)
	return err
}

// ── Users ────────────────────────────────────────────────────

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	return p.scanUser(ctx, `SELECT id, external_id, email, account_status, plan_id, role, settings, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

func (p *Postgres) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return p.scanUser(ctx, `SELECT id, external_id, email, account_status, plan_id, role, settings, created_at, updated_at
		FROM users WHERE external_id = $1`, externalID)
}

func (p *Postgres) scanUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	var settings []byte
	err := p.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.ExternalID, &u.Email, &u.AccountStatus, &u.PlanID, &u.Role, &settings, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "user", Key: arg}
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &u.Settings); err != nil {
			return nil, fmt.Errorf("postgres: decode user settings: %w", err)
		}
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO users (id, external_id, email, account_status, plan_id, role, settings, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		user.ID, user.ExternalID, user.Email, user.AccountStatus, user.PlanID, user.Role, settings, user.CreatedAt, user.UpdatedAt)
	return err
}

func (p *Postgres) UpdateUser(ctx context.Context, user *models.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET email=$2, account_status=$3, plan_id=$4, role=$5, settings=$6, updated_at=NOW()
		WHERE id=$1`, user.ID, user.Email, user.AccountStatus, user.PlanID, user.Role, settings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "user", Key: user.ID}
	}
	return nil
}

// ── Plans ────────────────────────────────────────────────────

func (p *Postgres) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var pl models.Plan
	err := p.pool.QueryRow(ctx, `SELECT id, name, daily_limit FROM plans WHERE id=$1`, id).
		Scan(&pl.ID, &pl.Name, &pl.DailyLimit)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "plan", Key: id}
	}
	return &pl, err
}

func (p *Postgres) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, daily_limit FROM plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Plan
	for rows.Next() {
		var pl models.Plan
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.DailyLimit); err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// ── Credentials ──────────────────────────────────────────────

func (p *Postgres) GetCredential(ctx context.Context, userID, moduleName string) (*models.Credential, error) {
	var c models.Credential
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, module_name, encrypted_blob, key_version, created_at, updated_at
		FROM credentials WHERE user_id=$1 AND module_name=$2`, userID, moduleName).
		Scan(&c.UserID, &c.ModuleName, &c.EncryptedBlob, &c.KeyVersion, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "credential", Key: credKey(userID, moduleName)}
	}
	return &c, err
}

func (p *Postgres) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, module_name, encrypted_blob, key_version, created_at, updated_at
		FROM credentials WHERE user_id=$1 ORDER BY module_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.UserID, &c.ModuleName, &c.EncryptedBlob, &c.KeyVersion, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SyncModuleCatalog mirrors the registry's (name, status, tools) rows
// so the console reads tool metadata straight from the database.
func (p *Postgres) SyncModuleCatalog(ctx context.Context, modules []models.Module) error {
	for _, m := range modules {
		tools, err := json.Marshal(m.Tools)
		if err != nil {
			return fmt.Errorf("postgres: marshal catalog tools for %s: %w", m.Name, err)
		}
		_, err = p.pool.Exec(ctx, `
			INSERT INTO module_catalog (name, status, tools, updated_at)
			VALUES ($1,$2,$3,NOW())
			ON CONFLICT (name) DO UPDATE SET
				status = EXCLUDED.status,
				tools = EXCLUDED.tools,
				updated_at = NOW()`,
			m.Name, string(m.Status), tools)
		if err != nil {
			return fmt.Errorf("postgres: sync catalog %s: %w", m.Name, err)
		}
	}
	return nil
}

func (p *Postgres) ListAllCredentials(ctx context.Context) ([]models.Credential, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, module_name, encrypted_blob, key_version, created_at, updated_at
		FROM credentials ORDER BY user_id, module_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.UserID, &c.ModuleName, &c.EncryptedBlob, &c.KeyVersion, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCredential writes the encrypted blob and seeds default tool
// settings in a single transaction, so a crash mid-write never leaves a
// credential without its tool settings.
func (p *Postgres) UpsertCredential(ctx context.Context, cred *models.Credential, seed []models.ToolSetting) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO credentials (user_id, module_name, encrypted_blob, key_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NOW(),NOW())
		ON CONFLICT (user_id, module_name) DO UPDATE SET
			encrypted_blob = EXCLUDED.encrypted_blob,
			key_version = EXCLUDED.key_version,
			updated_at = NOW()`,
		cred.UserID, cred.ModuleName, cred.EncryptedBlob, cred.KeyVersion)
	if err != nil {
		return fmt.Errorf("postgres: upsert credential: %w", err)
	}

	for _, setting := range seed {
		_, err = tx.Exec(ctx, `
			INSERT INTO tool_settings (user_id, module_id, tool_id, enabled)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (user_id, module_id, tool_id) DO NOTHING`,
			cred.UserID, cred.ModuleName, setting.ToolID, setting.Enabled)
		if err != nil {
			return fmt.Errorf("postgres: seed tool setting %s: %w", setting.ToolID, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) DeleteCredential(ctx context.Context, userID, moduleName string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM credentials WHERE user_id=$1 AND module_name=$2`, userID, moduleName)
	return err
}

// ── OAuth Apps ───────────────────────────────────────────────

func (p *Postgres) GetOAuthApp(ctx context.Context, provider string) (*models.OAuthApp, error) {
	var a models.OAuthApp
	err := p.pool.QueryRow(ctx, `
		SELECT provider, client_id, encrypted_client_secret, redirect_uri, enabled
		FROM oauth_apps WHERE provider=$1`, provider).
		Scan(&a.Provider, &a.ClientID, &a.EncryptedClientSecret, &a.RedirectURI, &a.Enabled)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "oauth_app", Key: provider}
	}
	return &a, err
}

func (p *Postgres) ListOAuthApps(ctx context.Context) ([]models.OAuthApp, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT provider, client_id, encrypted_client_secret, redirect_uri, enabled FROM oauth_apps ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.OAuthApp
	for rows.Next() {
		var a models.OAuthApp
		if err := rows.Scan(&a.Provider, &a.ClientID, &a.EncryptedClientSecret, &a.RedirectURI, &a.Enabled); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertOAuthApp(ctx context.Context, app *models.OAuthApp) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO oauth_apps (provider, client_id, encrypted_client_secret, redirect_uri, enabled)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (provider) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			encrypted_client_secret = EXCLUDED.encrypted_client_secret,
			redirect_uri = EXCLUDED.redirect_uri,
			enabled = EXCLUDED.enabled`,
		app.Provider, app.ClientID, app.EncryptedClientSecret, app.RedirectURI, app.Enabled)
	return err
}

func (p *Postgres) DeleteOAuthApp(ctx context.Context, provider string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM oauth_apps WHERE provider=$1`, provider)
	return err
}

// ── Tool Settings ────────────────────────────────────────────

func (p *Postgres) ListToolSettings(ctx context.Context, userID, moduleID string) ([]models.ToolSetting, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, module_id, tool_id, enabled FROM tool_settings
		WHERE user_id=$1 AND module_id=$2 ORDER BY tool_id`, userID, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ToolSetting
	for rows.Next() {
		var s models.ToolSetting
		if err := rows.Scan(&s.UserID, &s.ModuleID, &s.ToolID, &s.Enabled); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) SetToolEnabled(ctx context.Context, userID, moduleID, toolID string, enabled bool) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tool_settings (user_id, module_id, tool_id, enabled)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, module_id, tool_id) DO UPDATE SET enabled = EXCLUDED.enabled`,
		userID, moduleID, toolID, enabled)
	return err
}

// ── Module Settings ──────────────────────────────────────────

func (p *Postgres) GetModuleSetting(ctx context.Context, userID, moduleID string) (*models.ModuleSetting, error) {
	var s models.ModuleSetting
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, module_id, description FROM module_settings WHERE user_id=$1 AND module_id=$2`,
		userID, moduleID).Scan(&s.UserID, &s.ModuleID, &s.Description)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "module_setting", Key: credKey(userID, moduleID)}
	}
	return &s, err
}

func (p *Postgres) UpsertModuleSetting(ctx context.Context, setting *models.ModuleSetting) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO module_settings (user_id, module_id, description)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id, module_id) DO UPDATE SET description = EXCLUDED.description`,
		setting.UserID, setting.ModuleID, setting.Description)
	return err
}

// ── API Keys ─────────────────────────────────────────────────

func (p *Postgres) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, jwt_kid, key_prefix, display_name, expires_at, last_used_at, created_at
		FROM api_keys WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.JWTKid, &k.KeyPrefix, &k.DisplayName, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *Postgres) GetAPIKeyByKid(ctx context.Context, jwtKid string) (*models.APIKey, error) {
	var k models.APIKey
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, jwt_kid, key_prefix, display_name, expires_at, last_used_at, created_at
		FROM api_keys WHERE jwt_kid=$1`, jwtKid).
		Scan(&k.ID, &k.UserID, &k.JWTKid, &k.KeyPrefix, &k.DisplayName, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "api_key", Key: jwtKid}
	}
	return &k, err
}

func (p *Postgres) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, jwt_kid, key_prefix, display_name, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		key.ID, key.UserID, key.JWTKid, key.KeyPrefix, key.DisplayName, key.ExpiresAt, key.CreatedAt)
	return err
}

func (p *Postgres) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE api_keys SET last_used_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "api_key", Key: id}
	}
	return nil
}

func (p *Postgres) DeleteAPIKey(ctx context.Context, userID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM api_keys WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "api_key", Key: id}
	}
	return nil
}

// ── Usage ────────────────────────────────────────────────────

func (p *Postgres) RecordUsage(ctx context.Context, record *models.UsageRecord) error {
	details, err := json.Marshal(record.Details)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO usage_records (id, user_id, meta_tool, request_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		record.ID, record.UserID, record.MetaTool, record.RequestID, details, record.CreatedAt)
	return err
}

func (p *Postgres) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_records WHERE user_id=$1 AND created_at >= $2`, userID, since).Scan(&n)
	return n, err
}

func (p *Postgres) SummarizeUsage(ctx context.Context, userID string, start, end time.Time) (*models.UsageSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT details FROM usage_records WHERE user_id=$1 AND created_at >= $2 AND created_at <= $3`,
		userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &models.UsageSummary{ByModule: make(map[string]int), Start: start, End: end}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var details []models.UsageDetail
		if err := json.Unmarshal(raw, &details); err != nil {
			return nil, err
		}
		summary.TotalUsed++
		for _, d := range details {
			summary.ByModule[d.Module]++
		}
	}
	return summary, rows.Err()
}

// ── Prompts ──────────────────────────────────────────────────

func (p *Postgres) ListPrompts(ctx context.Context, userID string) ([]models.Prompt, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, module_id, name, description, content, enabled
		FROM prompts WHERE user_id=$1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Prompt
	for rows.Next() {
		var pr models.Prompt
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.ModuleID, &pr.Name, &pr.Description, &pr.Content, &pr.Enabled); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPrompt(ctx context.Context, userID, name string) (*models.Prompt, error) {
	var pr models.Prompt
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, module_id, name, description, content, enabled
		FROM prompts WHERE user_id=$1 AND name=$2`, userID, name).
		Scan(&pr.ID, &pr.UserID, &pr.ModuleID, &pr.Name, &pr.Description, &pr.Content, &pr.Enabled)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "prompt", Key: name}
	}
	return &pr, err
}

func (p *Postgres) UpsertPrompt(ctx context.Context, prompt *models.Prompt) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO prompts (id, user_id, module_id, name, description, content, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			enabled = EXCLUDED.enabled,
			module_id = EXCLUDED.module_id`,
		prompt.ID, prompt.UserID, prompt.ModuleID, prompt.Name, prompt.Description, prompt.Content, prompt.Enabled)
	return err
}

func (p *Postgres) DeletePrompt(ctx context.Context, userID, name string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM prompts WHERE user_id=$1 AND name=$2`, userID, name)
	return err
}

var _ Store = (*Postgres)(nil)
