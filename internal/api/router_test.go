package api_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibaleo/mcpist/internal/api"
	"github.com/shibaleo/mcpist/internal/apikeys"
	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/credentials"
	"github.com/shibaleo/mcpist/internal/crypto"
	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/mcp"
	"github.com/shibaleo/mcpist/internal/modules"
	"github.com/shibaleo/mcpist/internal/oauthapp"
	"github.com/shibaleo/mcpist/internal/prompts"
	"github.com/shibaleo/mcpist/internal/ratelimit"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/tokenbroker"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"
)

// fakeRevocations records Invalidate calls from the api-key delete path.
type fakeRevocations struct{ invalidated []string }

func (f *fakeRevocations) Invalidate(kid string) { f.invalidated = append(f.invalidated, kid) }

type env struct {
	srv         *httptest.Server
	db          *store.Memory
	gatewayKP   *keys.KeyPair
	serverKP    *keys.KeyPair
	revocations *fakeRevocations
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := store.NewMemory()
	db.SeedPlan(models.Plan{ID: "free", Name: "Free", DailyLimit: 50})

	aeadKey := make([]byte, 32)
	_, err := rand.Read(aeadKey)
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(base64.StdEncoding.EncodeToString(aeadKey), 1)
	require.NoError(t, err)
	keyring := crypto.NewKeyring(sealer)

	gatewayKP, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	serverKP, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	verifier := keys.NewVerifier()
	require.NoError(t, verifier.LoadJWKS(gatewayKP.PublicJWKS()))

	credsStore := credentials.New(db, keyring)
	appsStore := oauthapp.New(db, keyring)
	broker := tokenbroker.New(credsStore, appsStore, nil, 0)
	reg := registry.New(modules.All(broker, nil)...)
	recorder := usage.New(db)
	az := authz.New(verifier, db, recorder, "")
	promptSvc := prompts.New(db)

	mcpServer := mcp.New(reg, az, recorder, promptSvc, "test")
	transport := mcp.NewTransport(mcpServer, 0)
	limiter := ratelimit.New(1000, 0)

	revocations := &fakeRevocations{}
	handlers := &api.Handlers{
		Store:       db,
		Credentials: credsStore,
		OAuthApps:   appsStore,
		APIKeys:     apikeys.New(serverKP, db),
		Prompts:     promptSvc,
		Usage:       recorder,
		Registry:    reg,
		KeyVersion:  1,
		Revocations: revocations,
	}

	router := api.NewRouter(handlers, transport, az, limiter, serverKP, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, db: db, gatewayKP: gatewayKP, serverKP: serverKP, revocations: revocations}
}

func (e *env) seedUser(t *testing.T, id string, role models.Role) {
	t.Helper()
	require.NoError(t, e.db.CreateUser(context.Background(), &models.User{
		ID: id, ExternalID: "ext-" + id, Email: id + "@example.com",
		AccountStatus: models.AccountActive, PlanID: "free", Role: role,
	}))
}

func (e *env) gatewayToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token, err := e.gatewayKP.SignClaims(jwt.MapClaims{
		"iss": "gateway", "iat": now.Unix(), "exp": now.Add(30 * time.Second).Unix(),
		"user_id": userID,
	})
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Gateway-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

// ─── Two-hop boundary ────────────────────────────────────────

func TestMissingGatewayTokenRejected(t *testing.T) {
	e := newEnv(t)
	resp, raw := e.do(t, http.MethodGet, "/v1/me/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(raw), "MISSING_GATEWAY_TOKEN")
}

// A raw Authorization header must never substitute for a Gateway Token:
// the Protocol Server only trusts identities the Gateway minted.
func TestAuthorizationHeaderIsNotAccepted(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/me/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.gatewayToken(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvalidGatewayTokenRejected(t *testing.T) {
	e := newEnv(t)
	resp, raw := e.do(t, http.MethodGet, "/v1/me/profile", "garbage.token.here", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(raw), "INVALID_GATEWAY_TOKEN")
}

// ─── Profile & registration ──────────────────────────────────

func TestGetProfile(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	resp, raw := e.do(t, http.MethodGet, "/v1/me/profile", e.gatewayToken(t, "u1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user models.User
	require.NoError(t, json.Unmarshal(raw, &user))
	assert.Equal(t, "u1", user.ID)
}

func TestRegisterIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	var ids []string
	for i := 0; i < 3; i++ {
		resp, raw := e.do(t, http.MethodPost, "/v1/me/register", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		ids = append(ids, body.ID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[1], ids[2])
}

// ─── Credentials ─────────────────────────────────────────────

func TestCredentialLifecycleSeedsDefaults(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	resp, _ := e.do(t, http.MethodPut, "/v1/me/credentials/notion", token,
		`{"auth_type":"oauth2","access_token":"tok","refresh_token":"ref","expires_at":9999999999}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Read-only tools arrive enabled, destructive ones disabled.
	settings, err := e.db.ListToolSettings(context.Background(), "u1", "notion")
	require.NoError(t, err)
	enabled := models.ToolSettingsMap(settings)["notion"]
	assert.True(t, enabled["notion:search"])
	assert.True(t, enabled["notion:get_page"])
	assert.False(t, enabled["notion:delete_page"])

	resp, raw := e.do(t, http.MethodGet, "/v1/me/credentials/", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"notion"`)
	assert.NotContains(t, string(raw), "tok", "plaintext must never be echoed")

	resp, _ = e.do(t, http.MethodDelete, "/v1/me/credentials/notion", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/v1/me/credentials/notion", token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutCredentialUnknownModule(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	resp, _ := e.do(t, http.MethodPut, "/v1/me/credentials/doesnotexist", e.gatewayToken(t, "u1"),
		`{"auth_type":"api_key","api_key":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── Module config ───────────────────────────────────────────

func TestModuleToolsToggleAndConfig(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	resp, _ := e.do(t, http.MethodPut, "/v1/me/credentials/github", token, `{"auth_type":"oauth2","access_token":"tok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPut, "/v1/me/modules/github/tools", token,
		`{"enabled_tools":["github:create_issue"],"disabled_tools":["github:search_issues"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := e.do(t, http.MethodGet, "/v1/me/modules/config", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfgs []struct {
		Name  string `json:"name"`
		Tools []struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw, &cfgs))
	require.Len(t, cfgs, 1)
	byID := map[string]bool{}
	for _, tool := range cfgs[0].Tools {
		byID[tool.ID] = tool.Enabled
	}
	assert.True(t, byID["github:create_issue"])
	assert.False(t, byID["github:search_issues"])
}

func TestModuleDescriptionLengthCap(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	long := strings.Repeat("x", 257)
	resp, _ := e.do(t, http.MethodPut, "/v1/me/modules/notion/description", token,
		fmt.Sprintf(`{"description":%q}`, long))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPut, "/v1/me/modules/notion/description", token,
		`{"description":"my workspace"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── API keys ────────────────────────────────────────────────

func TestAPIKeyIssueAndRevoke(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	resp, raw := e.do(t, http.MethodPost, "/v1/me/apikeys/", token, `{"display_name":"laptop"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Key  string         `json:"key"`
		Meta models.APIKey `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.True(t, strings.HasPrefix(created.Key, "mpt_"))

	resp, raw = e.do(t, http.MethodGet, "/v1/me/apikeys/", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "laptop")
	assert.NotContains(t, string(raw), created.Key, "raw key is returned exactly once")

	resp, _ = e.do(t, http.MethodDelete, "/v1/me/apikeys/"+created.Meta.ID, token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, e.revocations.invalidated, created.Meta.ID,
		"delete must invalidate the gateway revocation cache entry")

	resp, _ = e.do(t, http.MethodGet, "/v1/me/apikeys/", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── Usage ───────────────────────────────────────────────────

func TestUsageEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")
	ctx := context.Background()

	require.NoError(t, e.db.RecordUsage(ctx, &models.UsageRecord{
		ID: "r1", UserID: "u1", MetaTool: models.MetaToolRun, RequestID: "q1",
		Details:   []models.UsageDetail{{Module: "notion", Tool: "search"}},
		CreatedAt: time.Now(),
	}))

	today := time.Now().Format("2006-01-02")
	tomorrow := time.Now().Add(24 * time.Hour).Format("2006-01-02")
	resp, raw := e.do(t, http.MethodGet, "/v1/me/usage?start="+today+"&end="+tomorrow, token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary models.UsageSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, 1, summary.TotalUsed)
	assert.Equal(t, 1, summary.ByModule["notion"])

	resp, _ = e.do(t, http.MethodGet, "/v1/me/usage?start=bogus&end="+tomorrow, token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Admin ───────────────────────────────────────────────────

func TestAdminRequiresAdminRole(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	e.seedUser(t, "root", models.RoleAdmin)

	resp, _ := e.do(t, http.MethodGet, "/v1/admin/oauth/apps", e.gatewayToken(t, "u1"), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/v1/admin/oauth/apps", e.gatewayToken(t, "root"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminOAuthAppCRUD(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "root", models.RoleAdmin)
	token := e.gatewayToken(t, "root")

	resp, _ := e.do(t, http.MethodPut, "/v1/admin/oauth/apps/github", token,
		`{"client_id":"cid","client_secret":"hunter2","redirect_uri":"https://x/cb","enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := e.do(t, http.MethodGet, "/v1/admin/oauth/apps", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "github")
	assert.NotContains(t, string(raw), "hunter2", "client secret must never be listed")

	resp, _ = e.do(t, http.MethodDelete, "/v1/admin/oauth/apps/github", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── MCP through the authenticated router ────────────────────

func TestMCPInlineThroughRouter(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)
	token := e.gatewayToken(t, "u1")

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	req.Header.Set("X-Gateway-Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Result map[string]interface{} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2025-03-26", body.Result["protocolVersion"])
}

func TestMCPRequiresGatewayToken(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/v1/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ─── Rate limiting ───────────────────────────────────────────

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", models.RoleUser)

	// A dedicated router with a tiny limit.
	limiter := ratelimit.New(2, 0)
	verifier := keys.NewVerifier()
	require.NoError(t, verifier.LoadJWKS(e.gatewayKP.PublicJWKS()))
	az := authz.New(verifier, e.db, usage.New(e.db), "")

	handler := api.GatewayAuth(az)(api.RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	token := e.gatewayToken(t, "u1")
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/me/profile", nil)
		req.Header.Set("X-Gateway-Token", token)
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMIT_EXCEEDED")
}
