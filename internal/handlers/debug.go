package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unread-service/internal/cache"
	"unread-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, messages *cache.MessageCache, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/cache", func(c *gin.Context) {
		if messages == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
			return
		}
		c.JSON(http.StatusOK, messages.Stats())
	})
}
