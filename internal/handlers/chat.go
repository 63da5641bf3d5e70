package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unread-service/internal/middleware"
	"unread-service/internal/models"
)

// StartChat returns the private chat between the caller and user_id,
// creating it on first use.
func (h *MessageHandler) StartChat(c *gin.Context) {
	var req struct {
		UserID    int64  `json:"user_id" binding:"required"`
		ProjectID *int64 `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if req.UserID <= 0 || req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	exists, err := h.store.UserExists(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, h.log, err, "failed to look up user")
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	chat, err := h.members.CreateOrGetChat(c.Request.Context(), userID, req.UserID, req.ProjectID)
	if err != nil {
		respondError(c, h.log, err, "failed to create chat")
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID, "chat": chat})
}

// PostChatMessage sends a private message to the other participant.
func (h *MessageHandler) PostChatMessage(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.members.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, h.log, err, "failed to load chat")
		return
	}

	userID := middleware.UserID(c)
	if !chat.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	msg, err := h.store.CreatePrivateMessage(c.Request.Context(), chatID, userID, chat.Other(userID), req.Content)
	if err != nil {
		respondError(c, h.log, err, "failed to create message")
		return
	}

	h.created(c.Request.Context(), msg)
	c.JSON(http.StatusCreated, msg)
}

// GetChatMessages returns the private chat history, oldest first.
func (h *MessageHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	chat, err := h.members.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, h.log, err, "failed to load chat")
		return
	}
	if !chat.HasParticipant(middleware.UserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	h.history(c, models.PrivateConversation(chatID))
}
