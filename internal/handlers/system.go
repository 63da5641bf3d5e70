package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"unread-service/internal/middleware"
)

// PostSystemMessage broadcasts a system notice. An empty userIds list
// targets every user.
func (h *MessageHandler) PostSystemMessage(c *gin.Context) {
	var req struct {
		Content string  `json:"content" binding:"required"`
		UserIDs []int64 `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, id := range req.UserIDs {
		if id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id in userIds"})
			return
		}
	}

	senderID := middleware.UserID(c)
	msg, err := h.store.CreateSystemMessage(c.Request.Context(), &senderID, req.Content, req.UserIDs)
	if err != nil {
		respondError(c, h.log, err, "failed to create system message")
		return
	}

	h.created(c.Request.Context(), msg)

	target := "all users"
	if len(req.UserIDs) > 0 {
		target = fmt.Sprintf("%d users", len(req.UserIDs))
	}
	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("system message %d sent to %s", msg.ID, target), requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusCreated, msg)
}
