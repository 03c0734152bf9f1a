package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/audit"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

type contextKey string

// ServiceAuthMiddleware admits internal callers presenting the shared
// service token as a bearer token.
type ServiceAuthMiddleware struct {
	token string
}

func NewServiceAuthMiddleware(token string) *ServiceAuthMiddleware {
	return &ServiceAuthMiddleware{token: token}
}

func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventServiceAuthFailure,
				Details: map[string]interface{}{"reason": "missing token"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if m.token == "" || !util.TokenEqual(token, m.token) {
			log.Warn().Str("token", util.MaskToken(token)).Msg("service auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventServiceAuthFailure,
				Details: map[string]interface{}{"reason": "invalid token"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
