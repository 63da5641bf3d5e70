package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"unread-service/internal/access"
	"unread-service/internal/cache"
	"unread-service/internal/logger"
	"unread-service/internal/middleware"
	"unread-service/internal/models"
	"unread-service/internal/observability"
	"unread-service/internal/repositories"
	"unread-service/internal/telemetry"
)

// Notifier pushes events onto the delivery channel.
type Notifier interface {
	Publish(ctx context.Context, ref models.ConversationRef, event models.Event, excludeUserID int64)
}

// MessageHandler creates, lists and deletes messages of every kind.
type MessageHandler struct {
	store   repositories.MessageRepository
	members repositories.MembershipRepository
	access  *access.Checker
	cache   *cache.MessageCache
	hub     Notifier
	audit   *telemetry.AuditEmitter
	clock   clock.Clock
	log     *logger.Logger
}

// NewMessageHandler builds a MessageHandler. cache, hub and audit may be nil.
func NewMessageHandler(store repositories.MessageRepository, members repositories.MembershipRepository, messages *cache.MessageCache, hub Notifier, audit *telemetry.AuditEmitter, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		store:   store,
		members: members,
		access:  access.NewChecker(members),
		cache:   messages,
		hub:     hub,
		audit:   audit,
		clock:   clock.WallClock,
		log:     log.Named("messages"),
	}
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// history serves a conversation from cache, loading it from the store on a miss.
func (h *MessageHandler) history(c *gin.Context, ref models.ConversationRef) {
	if h.cache != nil {
		if msgs, ok := h.cache.Get(ref); ok {
			c.JSON(http.StatusOK, gin.H{"messages": msgs})
			return
		}
	}

	var msgs []models.Message
	err := repositories.Retry(c.Request.Context(), h.clock, func() error {
		var err error
		msgs, err = h.store.ListConversation(c.Request.Context(), ref)
		return err
	})
	if err != nil {
		respondError(c, h.log, err, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	if h.cache != nil {
		h.cache.Put(ref, msgs)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// created fans a new message out to its conversation and to the inbox of
// every recipient. The sender's own sessions never receive it.
func (h *MessageHandler) created(ctx context.Context, msg models.Message) {
	var senderID int64
	if msg.SenderID != nil {
		senderID = *msg.SenderID
	}

	ref := msg.Conversation()
	if !ref.IsZero() {
		if h.cache != nil {
			h.cache.Invalidate(ref)
		}
		if h.hub != nil {
			h.hub.Publish(ctx, ref, models.NewMessageEvent(ref, msg), senderID)
		}
	}

	recipients, err := h.access.Recipients(ctx, msg)
	if err != nil {
		h.log.Warn("resolve recipients failed", zap.String("message", msg.Key()), zap.Error(err))
	}
	if h.hub != nil {
		for _, userID := range recipients {
			inbox := models.InboxConversation(userID)
			h.hub.Publish(ctx, inbox, models.NewMessageEvent(inbox, msg), 0)
		}
	}

	payload := map[string]interface{}{
		"message_id":   msg.ID,
		"message_type": msg.Kind,
		"sender_id":    msg.SenderID,
		"recipients":   len(recipients),
	}
	if !ref.IsZero() {
		payload["conversation"] = ref.String()
	}
	err = observability.PublishEvent(ctx, observability.RoutingMessageCreated,
		observability.NewEnvelope("message_events", observability.RoutingMessageCreated, payload),
		observability.HeadersFromContext(ctx))
	if err != nil {
		h.log.Warn("publish message.created failed", zap.String("message", msg.Key()), zap.Error(err))
	}
}

// DeleteMessage soft-deletes a message. Only the sender may delete project
// and private messages; system messages need the broadcast scope.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	messageID, ok := parseID(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	msg, err := h.store.GetMessage(ctx, kind, messageID)
	if err != nil {
		respondError(c, h.log, err, "failed to load message")
		return
	}
	if msg.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	allowed := msg.AuthoredBy(userID)
	if kind == models.KindSystem {
		allowed = middleware.HasScope(c, middleware.ScopeBroadcast)
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to delete this message"})
		return
	}

	recipients, err := h.access.Recipients(ctx, msg)
	if err != nil {
		h.log.Warn("resolve recipients failed", zap.String("message", msg.Key()), zap.Error(err))
	}

	if err := h.store.SoftDelete(ctx, kind, messageID); err != nil {
		respondError(c, h.log, err, "failed to delete message")
		return
	}

	ref := msg.Conversation()
	if !ref.IsZero() {
		if h.cache != nil {
			h.cache.Invalidate(ref)
		}
		if h.hub != nil {
			h.hub.Publish(ctx, ref, models.NewDeletedEvent(ref, kind, messageID), 0)
		}
	}
	if h.hub != nil {
		for _, id := range recipients {
			inbox := models.InboxConversation(id)
			h.hub.Publish(ctx, inbox, models.NewDeletedEvent(inbox, kind, messageID), 0)
		}
	}

	h.audit.Emit(ctx, "INFO", "message deleted: "+msg.Key(), requestIDFromContext(c), userIDFromContext(c))

	payload := map[string]interface{}{
		"message_id":   messageID,
		"message_type": kind,
		"deleted_by":   userID,
	}
	err = observability.PublishEvent(ctx, observability.RoutingMessageDeleted,
		observability.NewEnvelope("message_events", observability.RoutingMessageDeleted, payload),
		observability.HeadersFromContext(ctx))
	if err != nil {
		h.log.Warn("publish message.deleted failed", zap.String("message", msg.Key()), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MessageHandler) requireMember(c *gin.Context, allowed bool, err error) bool {
	if err != nil {
		respondError(c, h.log, errors.Trace(err), "failed to check membership")
		return false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}
