// Package middleware contains the gin middleware for the gateway ingress.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/pkg/ctxkey"
	"github.com/mikewong23571/codex/internal/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// Gin context keys set by the gateway handler so the completion log record
// can name the routing outcome.
const (
	ginKeyPoolID           = "log_pool_id"
	ginKeyAccountID        = "log_account_id"
	ginKeyConversationHash = "log_conversation_hash"
	ginKeyUpstreamStatus   = "log_upstream_status"
)

// RequestLogger injects a request-scoped logger and emits one structured
// record per request. The gateway token never reaches a log field.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		ctx := context.WithValue(c.Request.Context(), ctxkey.RequestID, requestID)
		requestLogger := logger.With(
			zap.String("component", "http"),
			zap.String("request_id", requestID),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		ctx = logger.IntoContext(ctx, requestLogger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		requestLogger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Int("upstream_status", c.GetInt(ginKeyUpstreamStatus)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("pool", orDash(c.GetString(ginKeyPoolID))),
			zap.String("account", orDash(c.GetString(ginKeyAccountID))),
			zap.String("conversation", orDash(c.GetString(ginKeyConversationHash))),
		)
	}
}

// RequestID returns the correlation id assigned to this request.
func RequestID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(ctxkey.RequestID).(string); ok {
		return id
	}
	return ""
}

// SetRouteLogFields records the routing outcome for the completion log.
func SetRouteLogFields(c *gin.Context, poolID, accountID, conversationHash string) {
	c.Set(ginKeyPoolID, poolID)
	if accountID != "" {
		c.Set(ginKeyAccountID, accountID)
	}
	if conversationHash != "" {
		c.Set(ginKeyConversationHash, conversationHash)
	}
}

// SetUpstreamStatusLogField records the upstream's answer for the
// completion log.
func SetUpstreamStatusLogField(c *gin.Context, status int) {
	c.Set(ginKeyUpstreamStatus, status)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
