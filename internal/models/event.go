package models

import "time"

// EventType is the type tag of a delivery channel event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventHeartbeat EventType = "heartbeat"
	EventMessage   EventType = "message"
	EventRead      EventType = "read"
	EventDeleted   EventType = "deleted"
)

// Event is pushed over SSE and WebSocket connections as one JSON object.
type Event struct {
	Type         EventType `json:"type"`
	Conversation string    `json:"conversation,omitempty"`
	Message      *Message  `json:"message,omitempty"`
	MessageType  Kind      `json:"messageType,omitempty"`
	MessageIDs   []int64   `json:"messageIds,omitempty"`
	UserID       int64     `json:"userId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewMessageEvent wraps a freshly stored message.
func NewMessageEvent(ref ConversationRef, msg Message) Event {
	return Event{
		Type:         EventMessage,
		Conversation: ref.String(),
		Message:      &msg,
		MessageType:  msg.Kind,
		Timestamp:    time.Now().UTC(),
	}
}

// NewReadEvent is a read receipt for ids read by userID.
func NewReadEvent(ref ConversationRef, kind Kind, userID int64, ids []int64) Event {
	return Event{
		Type:         EventRead,
		Conversation: ref.String(),
		MessageType:  kind,
		MessageIDs:   ids,
		UserID:       userID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewDeletedEvent tells peers a message was soft-deleted.
func NewDeletedEvent(ref ConversationRef, kind Kind, id int64) Event {
	return Event{
		Type:         EventDeleted,
		Conversation: ref.String(),
		MessageType:  kind,
		MessageIDs:   []int64{id},
		Timestamp:    time.Now().UTC(),
	}
}
