package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"
)

type fixture struct {
	az     *authz.Authorizer
	db     *store.Memory
	signer *keys.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemory()
	db.SeedPlan(models.Plan{ID: "free", Name: "Free", DailyLimit: 50})

	signer, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	verifier := keys.NewVerifier()
	require.NoError(t, verifier.LoadJWKS(signer.PublicJWKS()))

	az := authz.New(verifier, db, usage.New(db), "https://console.example.com")
	return &fixture{az: az, db: db, signer: signer}
}

func (f *fixture) mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = "gateway"
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(30 * time.Second).Unix()
	}
	token, err := f.signer.SignClaims(claims)
	require.NoError(t, err)
	return token
}

func (f *fixture) seedActiveUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.CreateUser(context.Background(), &models.User{
		ID: id, ExternalID: "ext-" + id, AccountStatus: models.AccountActive,
		PlanID: "free", Role: models.RoleUser,
	}))
}

func TestAuthenticateMissingToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.az.Authenticate(context.Background(), "")
	var azErr *authz.Error
	require.ErrorAs(t, err, &azErr)
	assert.Equal(t, authz.CodeMissingGatewayToken, azErr.Code)
}

func TestAuthenticateGarbageToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.az.Authenticate(context.Background(), "not.a.jwt")
	var azErr *authz.Error
	require.ErrorAs(t, err, &azErr)
	assert.Equal(t, authz.CodeInvalidGatewayToken, azErr.Code)
}

func TestAuthenticateWrongIssuer(t *testing.T) {
	f := newFixture(t)
	f.seedActiveUser(t, "u1")
	token := f.mintToken(t, jwt.MapClaims{"iss": "not-gateway", "user_id": "u1"})

	_, err := f.az.Authenticate(context.Background(), token)
	var azErr *authz.Error
	require.ErrorAs(t, err, &azErr)
	assert.Equal(t, authz.CodeInvalidGatewayToken, azErr.Code)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.seedActiveUser(t, "u1")
	token := f.mintToken(t, jwt.MapClaims{
		"user_id": "u1",
		"iat":     time.Now().Add(-2 * time.Minute).Unix(),
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	_, err := f.az.Authenticate(context.Background(), token)
	var azErr *authz.Error
	require.ErrorAs(t, err, &azErr)
	assert.Equal(t, authz.CodeInvalidGatewayToken, azErr.Code)
}

func TestAuthenticateAPIKeyPath(t *testing.T) {
	f := newFixture(t)
	f.seedActiveUser(t, "u1")
	token := f.mintToken(t, jwt.MapClaims{"user_id": "u1"})

	uc, err := f.az.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", uc.UserID)
	assert.Equal(t, 50, uc.DailyLimit)
	assert.Len(t, uc.RequestID, 32, "request id is hex128")
}

func TestAuthenticateJWTPathProvisionsUser(t *testing.T) {
	f := newFixture(t)
	token := f.mintToken(t, jwt.MapClaims{"external_id": "auth0|abc", "email": "a@b.co"})

	uc, err := f.az.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.NotEmpty(t, uc.UserID)
	_, err = uuid.Parse(uc.UserID)
	assert.NoError(t, err, "provisioned user id must be a UUID")

	// Second authentication resolves to the same user, no duplicate.
	uc2, err := f.az.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uc.UserID, uc2.UserID)
}

func TestAuthenticateSuspendedAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.CreateUser(context.Background(), &models.User{
		ID: "u1", ExternalID: "ext-u1", AccountStatus: models.AccountSuspended, PlanID: "free",
	}))
	token := f.mintToken(t, jwt.MapClaims{"user_id": "u1"})

	_, err := f.az.Authenticate(context.Background(), token)
	var azErr *authz.Error
	require.ErrorAs(t, err, &azErr)
	assert.Equal(t, authz.CodeAccountNotActive, azErr.Code)
}

func TestAuthenticateLoadsEnabledTools(t *testing.T) {
	f := newFixture(t)
	f.seedActiveUser(t, "u1")
	ctx := context.Background()

	cred := &models.Credential{UserID: "u1", ModuleName: "notion", EncryptedBlob: "v1:x", KeyVersion: 1}
	require.NoError(t, f.db.UpsertCredential(ctx, cred, []models.ToolSetting{
		{ToolID: "notion:search", Enabled: true},
		{ToolID: "notion:delete_page", Enabled: false},
	}))

	token := f.mintToken(t, jwt.MapClaims{"user_id": "u1"})
	uc, err := f.az.Authenticate(ctx, token)
	require.NoError(t, err)

	assert.Equal(t, []string{"notion"}, uc.EnabledModules)
	assert.Equal(t, []string{"notion:search"}, uc.EnabledTools["notion"])
	assert.True(t, uc.HasTool("notion", "notion:search"))
	assert.False(t, uc.HasTool("notion", "notion:delete_page"))
}

func TestCanAccessTool(t *testing.T) {
	f := newFixture(t)
	uc := &models.UserContext{
		UserID: "u1", DailyUsed: 49, DailyLimit: 50,
		EnabledTools: map[string][]string{"notion": {"notion:search"}},
	}

	tests := []struct {
		name     string
		module   string
		toolID   string
		cost     int
		wantCode authz.Code
	}{
		{"allowed", "notion", "notion:search", 1, ""},
		{"module not enabled", "github", "github:get_issue", 1, authz.CodeModuleNotEnabled},
		{"tool disabled", "notion", "notion:delete_page", 1, authz.CodeToolDisabled},
		{"quota exceeded", "notion", "notion:search", 2, authz.CodeUsageLimitExceeded},
		{"zero cost skips quota", "notion", "notion:search", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.az.CanAccessTool(uc, tt.module, tt.toolID, tt.cost)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var azErr *authz.Error
			require.ErrorAs(t, err, &azErr)
			assert.Equal(t, tt.wantCode, azErr.Code)
		})
	}
}

func TestUsageLimitMessageIncludesConsoleURL(t *testing.T) {
	f := newFixture(t)
	uc := &models.UserContext{
		UserID: "u1", DailyUsed: 50, DailyLimit: 50,
		EnabledTools: map[string][]string{"notion": {"notion:search"}},
	}
	err := f.az.CanAccessTool(uc, "notion", "notion:search", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "console.example.com")
}
