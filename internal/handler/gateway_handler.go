// Package handler implements the ingress HTTP surface of the gateway.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
	"github.com/mikewong23571/codex/internal/pkg/logger"
	middleware2 "github.com/mikewong23571/codex/internal/server/middleware"
	"github.com/mikewong23571/codex/internal/service"
)

// GatewayHandler orchestrates one proxied request: session → pool →
// account → credentials → forward. It is the only place semantic errors
// become HTTP statuses.
type GatewayHandler struct {
	gatewayService *service.GatewayService
	readyCheck     func(ctx context.Context) error
}

func NewGatewayHandler(gatewayService *service.GatewayService, readyCheck func(ctx context.Context) error) *GatewayHandler {
	return &GatewayHandler{
		gatewayService: gatewayService,
		readyCheck:     readyCheck,
	}
}

// Proxy forwards any authenticated request to the upstream.
func (h *GatewayHandler) Proxy(c *gin.Context) {
	session, account, ok := h.route(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	material, err := h.gatewayService.AuthMaterial(ctx, account)
	if err != nil {
		logger.FromContext(ctx).Warn("auth material unavailable",
			zap.String("pool", session.AccountPoolID),
			zap.String("account", account),
			zap.Error(err))
		h.errorResponse(c, err)
		return
	}

	result, err := h.gatewayService.Forwarder().Forward(ctx, c.Writer, c.Request, account, material)
	if err != nil {
		logger.FromContext(ctx).Warn("upstream forward failed",
			zap.String("account", account),
			zap.Error(err))
		h.errorResponse(c, err)
		return
	}
	middleware2.SetUpstreamStatusLogField(c, result.UpstreamStatus)
}

// Authz reports the routing outcome without touching the upstream. It
// exercises the full ingress path, so it doubles as a routing probe.
func (h *GatewayHandler) Authz(c *gin.Context) {
	session, account, ok := h.route(c)
	if !ok {
		return
	}

	conversation := "-"
	if convID := extractConversationID(c); convID != "" {
		conversation = service.HashOpaqueID(convID)
	}
	c.String(http.StatusOK, "ok\npool: %s\naccount: %s\nconversation: %s\n",
		session.AccountPoolID, account, conversation)
}

// Healthz is a static liveness probe.
func (h *GatewayHandler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok\n")
}

// Readyz verifies the shared store is reachable.
func (h *GatewayHandler) Readyz(c *gin.Context) {
	if err := h.readyCheck(c.Request.Context()); err != nil {
		logger.FromContext(c.Request.Context()).Error("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"type":       string(infraerrors.KindBackendUnavailable),
				"message":    "shared store unreachable",
				"request_id": middleware2.RequestID(c),
			},
		})
		return
	}
	c.String(http.StatusOK, "ok\n")
}

func (h *GatewayHandler) route(c *gin.Context) (*service.GatewaySession, string, bool) {
	session, ok := middleware2.GetSessionFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"type":       "internal",
				"message":    "session context not found",
				"request_id": middleware2.RequestID(c),
			},
		})
		return nil, "", false
	}
	token, _ := middleware2.GetTokenFromContext(c)

	conversationID := extractConversationID(c)
	conversationHash := ""
	if conversationID != "" {
		conversationHash = service.HashOpaqueID(conversationID)
	}

	ctx := c.Request.Context()
	account, err := h.gatewayService.RouteAccount(ctx, session, token, c.Request.Method, c.Request.URL.Path, conversationID)
	if err != nil {
		middleware2.SetRouteLogFields(c, session.AccountPoolID, "", conversationHash)
		logger.FromContext(ctx).Warn("routing failed",
			zap.String("pool", session.AccountPoolID),
			zap.Error(err))
		h.errorResponse(c, err)
		return nil, "", false
	}

	middleware2.SetRouteLogFields(c, session.AccountPoolID, account, conversationHash)
	return session, account, true
}

// extractConversationID reads the sticky key from headers: conversation_id
// preferred, session_id as the fallback, case-insensitive.
func extractConversationID(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader("conversation_id")); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader("session_id"))
}

func (h *GatewayHandler) errorResponse(c *gin.Context, err error) {
	kind := infraerrors.KindOf(err)

	var status int
	var message string
	switch kind {
	case infraerrors.KindAuthMissing, infraerrors.KindAuthRejected:
		status = http.StatusUnauthorized
		message = "missing or invalid gateway token"
	case infraerrors.KindNoEligibleAccount:
		status = http.StatusServiceUnavailable
		message = "no eligible account in pool"
	case infraerrors.KindCredentialMissing, infraerrors.KindCredentialInvalid, infraerrors.KindCredentialRefreshTimeout:
		status = http.StatusServiceUnavailable
		message = "account credentials unavailable"
	case infraerrors.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
		message = "shared store unreachable"
	case infraerrors.KindUpstreamTimeout:
		status = http.StatusGatewayTimeout
		message = "upstream timed out"
	case infraerrors.KindUpstreamConnect:
		status = http.StatusBadGateway
		message = "upstream request failed"
	default:
		status = http.StatusBadGateway
		message = "upstream request failed"
	}

	if detail := infraerrors.Message(err); detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"type":       string(kind),
			"message":    message,
			"request_id": middleware2.RequestID(c),
		},
	})
}
