package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	bodyOK       = "ok"
	bodyReady    = "ready"
	bodyNotReady = "not-ready"
)

// Readiness is satisfied by the broker transport.
type Readiness interface {
	IsReady() bool
}

// RegisterRoutes mounts the plain-text health checks and a JSON summary.
// /healthz only reports that the process is serving.
func RegisterRoutes(rg *gin.RouterGroup, broker Readiness, started time.Time) {
	rg.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, bodyOK)
	})

	rg.GET("/readyz", func(c *gin.Context) {
		if broker == nil || !broker.IsReady() {
			c.String(http.StatusServiceUnavailable, bodyNotReady)
			return
		}
		c.String(http.StatusOK, bodyReady)
	})

	rg.GET("/health", func(c *gin.Context) {
		ready := broker != nil && broker.IsReady()

		status := "ok"
		code := http.StatusOK
		if !ready {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status": status,
			"broker": ready,
			"uptime": time.Since(started).Truncate(time.Second).String(),
		})
	})
}
