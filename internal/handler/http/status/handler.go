// Package status exposes the agent's local observability API: health,
// a connection/notification summary, and Prometheus metrics. It binds to
// loopback only; nothing here is meant to be reachable from outside.
package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmp-portal-client/internal/domain"
)

// ConnectionInfo is the slice of the connection manager the handler reads.
type ConnectionInfo interface {
	Connected() bool
	Identity() *domain.Identity
}

// NotificationInfo is the slice of the poller the handler reads.
type NotificationInfo interface {
	Notifications() []domain.Notification
}

// Handler serves the status endpoints.
type Handler struct {
	conn          ConnectionInfo
	notifications NotificationInfo
	startedAt     time.Time
}

// NewHandler creates a status handler over the running components.
func NewHandler(conn ConnectionInfo, notifications NotificationInfo) *Handler {
	return &Handler{
		conn:          conn,
		notifications: notifications,
		startedAt:     time.Now(),
	}
}

// RegisterRoutes mounts the status endpoints on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/status", h.status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	body := gin.H{
		"connected":             h.conn.Connected(),
		"uptime_seconds":        int64(time.Since(h.startedAt).Seconds()),
		"pending_notifications": len(h.notifications.Notifications()),
	}
	if identity := h.conn.Identity(); identity != nil {
		body["user_id"] = identity.ID
		body["role"] = identity.Role
	}
	c.JSON(http.StatusOK, body)
}

// NewRouter builds the status router in release mode with the standard
// recovery middleware.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)
	return router
}
