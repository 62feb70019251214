// Package server wires the gin engine: middleware, public probes, and the
// catch-all proxy route.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mikewong23571/codex/internal/handler"
	middleware2 "github.com/mikewong23571/codex/internal/server/middleware"
)

// SetupRouter configures middleware and routes. Everything that is not a
// public probe is authenticated and proxied, any method, any path.
func SetupRouter(h *handler.GatewayHandler, gatewayAuth middleware2.GatewayAuthMiddleware) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware2.RequestLogger())

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/authz", gin.HandlerFunc(gatewayAuth), h.Authz)

	r.NoRoute(gin.HandlerFunc(gatewayAuth), h.Proxy)

	return r
}
