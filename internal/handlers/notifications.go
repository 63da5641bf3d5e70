package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"unread-service/internal/logger"
	"unread-service/internal/middleware"
	"unread-service/internal/models"
	"unread-service/internal/readstate"
	"unread-service/internal/unread"
)

// NotificationHandler serves unread counts and read-state changes.
type NotificationHandler struct {
	aggregator *unread.Aggregator
	mutator    *readstate.Mutator
	log        *logger.Logger
}

func NewNotificationHandler(aggregator *unread.Aggregator, mutator *readstate.Mutator, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{aggregator: aggregator, mutator: mutator, log: log.Named("notifications")}
}

// GetUnread returns {total, breakdown}.
func (h *NotificationHandler) GetUnread(c *gin.Context) {
	snapshot, err := h.aggregator.Snapshot(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err, "failed to load unread counts")
		return
	}
	c.JSON(http.StatusOK, snapshot.Response())
}

// GetRecent returns the newest unread items for the notification dropdown.
func (h *NotificationHandler) GetRecent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	items, err := h.aggregator.Recent(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		respondError(c, h.log, err, "failed to load notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// MarkRead marks a single message read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req struct {
		MessageID   int64       `json:"messageId" binding:"required"`
		MessageType models.Kind `json:"messageType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.mutator.MarkRead(c.Request.Context(), middleware.UserID(c), req.MessageType, req.MessageID)
	if err != nil {
		respondError(c, h.log, err, "failed to mark message read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "markedCount": res.Marked})
}

// MarkBatchRead marks a batch of one kind read.
func (h *NotificationHandler) MarkBatchRead(c *gin.Context) {
	var req struct {
		MessageIDs  []int64     `json:"messageIds"`
		MessageType models.Kind `json:"messageType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.mutator.MarkBatchRead(c.Request.Context(), middleware.UserID(c), req.MessageType, req.MessageIDs)
	if err != nil {
		respondError(c, h.log, err, "failed to mark messages read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "markedCount": res.Marked})
}

// MarkAllRead marks everything of a kind, or of every kind, read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	var req struct {
		MessageType string `json:"messageType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.mutator.MarkAllRead(c.Request.Context(), middleware.UserID(c), req.MessageType)
	if err != nil {
		respondError(c, h.log, err, "failed to mark messages read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "markedCount": res.Marked})
}
