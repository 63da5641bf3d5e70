package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// Authorizer decides whether a user may observe a conversation.
type Authorizer interface {
	CanObserve(ctx context.Context, userID int64, ref models.ConversationRef) (bool, error)
}

// StreamHandler performs the subscribe handshake for both transports.
type StreamHandler struct {
	hub    *Hub
	authz  Authorizer
	tokens TokenValidator
	log    *logger.Logger
}

func NewStreamHandler(hub *Hub, authz Authorizer, tokens TokenValidator, log *logger.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, authz: authz, tokens: tokens, log: log.Named("stream")}
}

func (h *StreamHandler) handshake(c *gin.Context, name string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("unread-service/realtime").Start(c.Request.Context(), name)
	c.Request = c.Request.WithContext(ctx)
	return ctx, span
}

// authorize runs the Connecting step. On failure it has already written the
// response and reports false.
func (h *StreamHandler) authorize(c *gin.Context, span trace.Span) (models.ConversationRef, ConnInfo, bool) {
	ref, err := models.ParseConversationRef(c.Param("kind"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.ConversationRef{}, ConnInfo{}, false
	}
	span.SetAttributes(attribute.String("conversation", ref.String()))

	userID, err := h.tokens.ValidateToken(tokenFromRequest(c))
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return models.ConversationRef{}, ConnInfo{}, false
	}

	allowed, err := h.authz.CanObserve(c.Request.Context(), userID, ref)
	if err != nil {
		span.RecordError(err)
		h.log.Error("subscribe authorization failed", zap.String("conversation", ref.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authorize subscription"})
		return models.ConversationRef{}, ConnInfo{}, false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return models.ConversationRef{}, ConnInfo{}, false
	}

	info := NewConnInfo(c.Request, userID, span.SpanContext().TraceID().String())
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("conn_id", info.ConnID))
	return ref, info, true
}

// tokenFromRequest reads the bearer token from the Authorization header, or
// from ?token= for clients that cannot set headers on a stream.
func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}
