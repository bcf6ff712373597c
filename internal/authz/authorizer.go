// Package authz implements the Authorizer: gateway-token verification,
// user identity resolution, UserContext loading, and the per-call
// permission/quota checks invoked by the MCP dispatcher.
//
// Grounded on the teacher's AuthProvider/AuthProviderChain contract
// (pkg/contracts/auth.go) for the three-way verify/reject/continue shape,
// generalized here to mcpist's single-provider Gateway Token model.
package authz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Code is an application-level error code surfaced to clients, mapped to
// both HTTP status (REST) and JSON-RPC error codes (MCP) by callers.
type Code string

const (
	CodeMissingGatewayToken Code = "MISSING_GATEWAY_TOKEN"
	CodeInvalidGatewayToken Code = "INVALID_GATEWAY_TOKEN"
	CodeAccountNotActive    Code = "ACCOUNT_NOT_ACTIVE"
	CodeModuleNotEnabled    Code = "MODULE_NOT_ENABLED"
	CodeToolDisabled        Code = "TOOL_DISABLED"
	CodeUsageLimitExceeded  Code = "USAGE_LIMIT_EXCEEDED"
)

// Error is a tagged authorization failure. Message is safe to return to
// the client; it never echoes credential or internal detail.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func newError(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

// ClockSkew bounds allowed drift when verifying Gateway Token exp/iat.
const ClockSkew = 5 * time.Second

// TokenVerifier validates a signed token and returns its claims. Both
// keys.Verifier (static key set, tests) and keys.RemoteJWKS (TTL-cached
// fetch of the Gateway's published JWKS) satisfy it.
type TokenVerifier interface {
	Parse(tokenString string, allowedSkew time.Duration) (jwt.MapClaims, error)
}

// Authorizer verifies Gateway Tokens and loads per-request UserContext.
type Authorizer struct {
	verifier   TokenVerifier
	db         store.Store
	recorder   *usage.Recorder
	consoleURL string
}

// New builds an Authorizer over the Gateway's JWKS verifier.
func New(verifier TokenVerifier, db store.Store, recorder *usage.Recorder, consoleURL string) *Authorizer {
	return &Authorizer{verifier: verifier, db: db, recorder: recorder, consoleURL: consoleURL}
}

// Authenticate verifies the Gateway Token and loads a full UserContext for
// the request, generating a fresh request id.
func (a *Authorizer) Authenticate(ctx context.Context, gatewayToken string) (*models.UserContext, error) {
	if gatewayToken == "" {
		return nil, newError(CodeMissingGatewayToken, "gateway token required")
	}

	claims, err := a.verifier.Parse(gatewayToken, ClockSkew)
	if err != nil {
		logSecurityEvent("invalid_gateway_token", map[string]interface{}{"error": err.Error()})
		return nil, newError(CodeInvalidGatewayToken, "gateway token invalid or expired")
	}
	if iss, _ := claims["iss"].(string); iss != "gateway" {
		logSecurityEvent("invalid_gateway_token", map[string]interface{}{"reason": "bad issuer"})
		return nil, newError(CodeInvalidGatewayToken, "gateway token invalid or expired")
	}

	userID, err := a.resolveUserID(ctx, claims)
	if err != nil {
		return nil, newError(CodeInvalidGatewayToken, "gateway token invalid or expired")
	}

	userCtx, err := a.loadUserContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	userCtx.RequestID = newRequestID()
	return userCtx, nil
}

// resolveUserID implements the two resolution paths: user_id (API-key
// path) used directly, or external_id (JWT path) upserted-then-looked-up.
func (a *Authorizer) resolveUserID(ctx context.Context, claims map[string]interface{}) (string, error) {
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	extID, ok := claims["external_id"].(string)
	if !ok || extID == "" {
		return "", errors.New("authz: gateway token carries neither user_id nor external_id")
	}

	user, err := a.db.GetUserByExternalID(ctx, extID)
	if err == nil {
		return user.ID, nil
	}
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		return "", err
	}

	email, _ := claims["email"].(string)
	return a.provisionUser(ctx, extID, email)
}

func (a *Authorizer) provisionUser(ctx context.Context, externalID, email string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	user := &models.User{
		ID:            id,
		ExternalID:    externalID,
		Email:         email,
		AccountStatus: models.AccountActive,
		PlanID:        "free",
		Role:          models.RoleUser,
		Settings:      map[string]interface{}{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.db.CreateUser(ctx, user); err != nil {
		return "", fmt.Errorf("authz: provision user: %w", err)
	}
	return id, nil
}

// loadUserContext loads profile, today's usage sum, and enabled tools in
// one logical read.
func (a *Authorizer) loadUserContext(ctx context.Context, userID string) (*models.UserContext, error) {
	user, err := a.db.GetUser(ctx, userID)
	if err != nil {
		return nil, newError(CodeInvalidGatewayToken, "gateway token invalid or expired")
	}
	if user.AccountStatus != models.AccountActive {
		return nil, newError(CodeAccountNotActive, "account is not active")
	}

	plan, err := a.db.GetPlan(ctx, user.PlanID)
	if err != nil {
		return nil, fmt.Errorf("authz: load plan: %w", err)
	}

	startOfDay := time.Now().Truncate(24 * time.Hour)
	used, err := a.recorder.CountSince(ctx, userID, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("authz: count usage: %w", err)
	}

	enabledTools, moduleDescriptions, err := a.loadEnabledTools(ctx, userID)
	if err != nil {
		return nil, err
	}

	enabledModules := make([]string, 0, len(enabledTools))
	for module := range enabledTools {
		enabledModules = append(enabledModules, module)
	}

	return &models.UserContext{
		UserID:             userID,
		AccountStatus:      user.AccountStatus,
		PlanID:             user.PlanID,
		DailyUsed:          used,
		DailyLimit:         plan.DailyLimit,
		EnabledModules:     enabledModules,
		EnabledTools:       enabledTools,
		ModuleDescriptions: moduleDescriptions,
	}, nil
}

func (a *Authorizer) loadEnabledTools(ctx context.Context, userID string) (map[string][]string, map[string]string, error) {
	creds, err := a.db.ListCredentials(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("authz: list credentials: %w", err)
	}

	enabledTools := make(map[string][]string)
	moduleDescriptions := make(map[string]string)
	for _, cred := range creds {
		settings, err := a.db.ListToolSettings(ctx, userID, cred.ModuleName)
		if err != nil {
			return nil, nil, fmt.Errorf("authz: list tool settings: %w", err)
		}
		var ids []string
		for _, s := range settings {
			if s.Enabled {
				ids = append(ids, s.ToolID)
			}
		}
		if len(ids) > 0 {
			enabledTools[cred.ModuleName] = ids
		}
		if setting, err := a.db.GetModuleSetting(ctx, userID, cred.ModuleName); err == nil {
			moduleDescriptions[cred.ModuleName] = setting.Description
		}
	}
	return enabledTools, moduleDescriptions, nil
}

// CanAccessTool implements the per-call permission/quota check invoked by
// the dispatcher, not the Authenticate middleware.
func (a *Authorizer) CanAccessTool(uc *models.UserContext, module, toolID string, creditCost int) error {
	if !uc.HasModule(module) {
		return newError(CodeModuleNotEnabled, fmt.Sprintf("module %q is not enabled", module))
	}
	if !uc.HasTool(module, toolID) {
		return newError(CodeToolDisabled, fmt.Sprintf("Tool '%s' is not enabled for your account", toolID))
	}
	if creditCost > 0 && uc.DailyUsed+creditCost > uc.DailyLimit {
		msg := "daily usage limit exceeded"
		if a.consoleURL != "" {
			msg = fmt.Sprintf("daily usage limit exceeded; upgrade at %s", a.consoleURL)
		}
		return newError(CodeUsageLimitExceeded, msg)
	}
	return nil
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// logSecurityEvent emits a structured, server-side-only security log line.
// Never returned to the client.
func logSecurityEvent(event string, fields map[string]interface{}) {
	ev := log.Warn().Str("security_event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("security event")
}
