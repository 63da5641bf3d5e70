package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which source a message belongs to.
type Kind string

const (
	KindSystem  Kind = "system"
	KindProject Kind = "project"
	KindPrivate Kind = "private"
)

// Kinds lists every message kind in a stable order.
var Kinds = []Kind{KindSystem, KindProject, KindPrivate}

// ParseKind validates a wire value.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSystem:
		return KindSystem, nil
	case KindProject:
		return KindProject, nil
	case KindPrivate:
		return KindPrivate, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Message is the common shape of system, project and private messages.
// ConversationID is the project id for project messages, the chat id for
// private messages and zero for system messages.
type Message struct {
	ID             int64      `db:"id" json:"id"`
	Kind           Kind       `db:"kind" json:"messageType"`
	SenderID       *int64     `db:"sender_id" json:"senderId,omitempty"`
	ReceiverID     *int64     `db:"receiver_id" json:"receiverId,omitempty"`
	ConversationID int64      `db:"conversation_id" json:"conversationId,omitempty"`
	Content        string     `db:"content" json:"content"`
	IsRead         bool       `db:"is_read" json:"isRead,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"readAt,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"isDeleted,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// Conversation returns the ref the message is delivered on. System messages
// have no shared conversation and are delivered on recipients' inboxes.
func (m Message) Conversation() ConversationRef {
	switch m.Kind {
	case KindProject:
		return ProjectConversation(m.ConversationID)
	case KindPrivate:
		return PrivateConversation(m.ConversationID)
	}
	return ConversationRef{}
}

// AuthoredBy reports whether userID sent the message.
func (m Message) AuthoredBy(userID int64) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// Key identifies a message across kinds.
func (m Message) Key() string {
	return MessageKey(m.Kind, m.ID)
}

// MessageKey builds the cross-kind key for a message id.
func MessageKey(kind Kind, id int64) string {
	return string(kind) + ":" + strconv.FormatInt(id, 10)
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// PrivateChat is a two-party conversation, optionally scoped to a project.
type PrivateChat struct {
	ID        int64     `db:"id" json:"id"`
	User1ID   int64     `db:"user1_id" json:"user1Id"`
	User2ID   int64     `db:"user2_id" json:"user2Id"`
	ProjectID *int64    `db:"project_id" json:"projectId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Other returns the participant that is not userID.
func (c PrivateChat) Other(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether userID is one of the two parties.
func (c PrivateChat) HasParticipant(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}
