package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unread-service/internal/middleware"
	"unread-service/internal/models"
)

// PostProjectMessage appends a message to a project chat.
func (h *MessageHandler) PostProjectMessage(c *gin.Context) {
	projectID, ok := parseID(c, "project_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	member, err := h.members.IsProjectMember(c.Request.Context(), projectID, userID)
	if !h.requireMember(c, member, err) {
		return
	}

	msg, err := h.store.CreateProjectMessage(c.Request.Context(), projectID, userID, req.Content)
	if err != nil {
		respondError(c, h.log, err, "failed to create message")
		return
	}

	h.created(c.Request.Context(), msg)
	c.JSON(http.StatusCreated, msg)
}

// GetProjectMessages returns the project chat history, oldest first.
func (h *MessageHandler) GetProjectMessages(c *gin.Context) {
	projectID, ok := parseID(c, "project_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	member, err := h.members.IsProjectMember(c.Request.Context(), projectID, middleware.UserID(c))
	if !h.requireMember(c, member, err) {
		return
	}

	h.history(c, models.ProjectConversation(projectID))
}
