package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/ratelimit"
)

// GatewayTokenHeader carries the Gateway's minted token across the
// two-hop boundary. The Protocol Server accepts no other credential.
const GatewayTokenHeader = "X-Gateway-Token"

// RequestIDHeader is generated by the Gateway when the client omits one.
const RequestIDHeader = "X-Request-ID"

// GatewayAuth authenticates every request by Gateway Token, loads the
// UserContext, and attaches it to the request context. Plain
// Authorization headers are deliberately ignored here — the Gateway
// Token is the only way this process learns the user.
func GatewayAuth(az *authz.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc, err := az.Authenticate(r.Context(), r.Header.Get(GatewayTokenHeader))
			if err != nil {
				status, code, msg := mapAuthzError(err)
				respondError(w, status, code, msg)
				return
			}
			if rid := r.Header.Get(RequestIDHeader); rid != "" {
				uc.RequestID = rid
			}
			next.ServeHTTP(w, r.WithContext(authz.WithUser(r.Context(), uc)))
		})
	}
}

// RateLimit applies the per-replica sliding-window cap after
// authentication resolved the user. Denials get Retry-After: 1.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc, ok := authz.UserFrom(r.Context())
			if ok && !limiter.Allow(uc.UserID) {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recovery captures handler panics, logs a security event, and returns a
// generic payload — never a stack trace.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).
					Str("security_event", "handler_panic").Msg("security event")
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured line per request, teacher-style.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Str("request_id", r.Header.Get(RequestIDHeader)).
			Msg("request")
	})
}

// mapAuthzError translates an *authz.Error into the REST envelope's
// (status, code, message) triple.
func mapAuthzError(err error) (int, string, string) {
	var azErr *authz.Error
	if !errors.As(err, &azErr) {
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
	switch azErr.Code {
	case authz.CodeMissingGatewayToken, authz.CodeInvalidGatewayToken:
		return http.StatusUnauthorized, string(azErr.Code), azErr.Message
	case authz.CodeAccountNotActive, authz.CodeModuleNotEnabled, authz.CodeToolDisabled:
		return http.StatusForbidden, string(azErr.Code), azErr.Message
	case authz.CodeUsageLimitExceeded:
		return http.StatusTooManyRequests, string(azErr.Code), azErr.Message
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}
