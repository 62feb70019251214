package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/pkg/ctxkey"
	"github.com/mikewong23571/codex/internal/pkg/logger"
	"github.com/mikewong23571/codex/internal/service"
)

// GatewayAuthMiddleware validates the ingress bearer token against the
// shared session store.
type GatewayAuthMiddleware gin.HandlerFunc

// NewGatewayAuth builds the auth middleware. Missing and rejected tokens
// are observationally identical 401s; only a store outage is a 503.
func NewGatewayAuth(sessions service.SessionStore) GatewayAuthMiddleware {
	return func(c *gin.Context) {
		token := parseBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c)
			return
		}

		session, err := sessions.GetSession(c.Request.Context(), token)
		if err != nil {
			logger.FromContext(c.Request.Context()).Error("session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{
					"type":       "backend_unavailable",
					"message":    "session store unreachable",
					"request_id": RequestID(c),
				},
			})
			return
		}
		if session == nil {
			unauthorized(c)
			return
		}

		ctx := context.WithValue(c.Request.Context(), ctxkey.GatewaySession, session)
		ctx = context.WithValue(ctx, ctxkey.GatewayToken, token)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetSessionFromContext returns the session attached by NewGatewayAuth.
func GetSessionFromContext(c *gin.Context) (*service.GatewaySession, bool) {
	session, ok := c.Request.Context().Value(ctxkey.GatewaySession).(*service.GatewaySession)
	return session, ok
}

// GetTokenFromContext returns the raw bearer token for fingerprinting.
// It must never be logged or forwarded.
func GetTokenFromContext(c *gin.Context) (string, bool) {
	token, ok := c.Request.Context().Value(ctxkey.GatewayToken).(string)
	return token, ok
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"type":       "auth_rejected",
			"message":    "missing or invalid gateway token",
			"request_id": RequestID(c),
		},
	})
}

// parseBearerToken extracts the token from "Bearer <token>", scheme
// case-insensitive.
func parseBearerToken(value string) string {
	fields := strings.Fields(value)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}
