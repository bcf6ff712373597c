package authz

import (
	"context"

	"github.com/shibaleo/mcpist/pkg/models"
)

type userContextKey struct{}

// WithUser returns a context carrying the resolved UserContext. Set by
// the gateway-token middleware; read by the MCP dispatcher, REST
// handlers, and module handlers (which need the user id to pull tokens
// from the broker).
func WithUser(ctx context.Context, uc *models.UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserFrom extracts the UserContext attached by WithUser.
func UserFrom(ctx context.Context) (*models.UserContext, bool) {
	uc, ok := ctx.Value(userContextKey{}).(*models.UserContext)
	return uc, ok
}
