package app

import (
	"github.com/gin-gonic/gin"

	"github.com/mx-space/realtime/internal/modules/gateway/gateway"
	"github.com/mx-space/realtime/internal/modules/system/core/health"
	"github.com/mx-space/realtime/internal/pkg/response"
)

func (a *App) registerRoutes() {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	root := r.Group("")
	health.RegisterRoutes(root, a.transport, a.started)
	gateway.RegisterRoutes(root, a.hub, a.cfg.Gateway.Path)
}
