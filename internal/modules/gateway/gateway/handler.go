package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/pkg/response"
)

const DefaultPath = "/ws"

// RegisterRoutes mounts the websocket endpoint and the stats endpoint.
func RegisterRoutes(rg *gin.RouterGroup, hub *Hub, path string) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	rg.GET(path, hub.ServeWS)

	rg.GET("/gateway/stats", func(c *gin.Context) {
		response.OK(c, hub.Stats())
	})
}

// ServeWS authenticates the upgrade request and admits the connection.
// Nothing is registered unless the token verifies and the upgrade succeeds.
func (h *Hub) ServeWS(c *gin.Context) {
	release, err := h.reserve()
	if err != nil {
		c.String(http.StatusServiceUnavailable, "unavailable")
		return
	}
	// Held until the connection is tracked or the upgrade is abandoned.
	defer release()

	identity, err := h.verifier.Verify(extractToken(c.Request))
	if err != nil {
		h.logger.Debug("upgrade rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	conn := newConn(h, uuid.NewString())
	if err := conn.authenticate(identity); err != nil {
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		conn.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	if err := conn.admit(ws); err != nil {
		conn.logger.Warn("admit failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	if err := h.track(conn); err != nil {
		conn.close(errorReason(err))
		return
	}

	conn.logger.Info("connection admitted", zap.String("remote", c.ClientIP()))
	go conn.writePump()
	go conn.readPump()
}

func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}

func errorReason(err error) string {
	if errors.Is(err, ErrHubClosed) {
		return "server shutdown"
	}
	return err.Error()
}
