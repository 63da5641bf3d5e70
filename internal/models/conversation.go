package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConversationKind names the scope a delivery stream is keyed by.
type ConversationKind string

const (
	ConversationProject ConversationKind = "project"
	ConversationPrivate ConversationKind = "private"
	// ConversationInbox is a per-user feed carrying system broadcasts and
	// hints for every conversation the user takes part in.
	ConversationInbox ConversationKind = "inbox"
)

// ConversationRef identifies a project chat, a private chat or a user inbox.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   int64            `json:"id"`
}

func ProjectConversation(projectID int64) ConversationRef {
	return ConversationRef{Kind: ConversationProject, ID: projectID}
}

func PrivateConversation(chatID int64) ConversationRef {
	return ConversationRef{Kind: ConversationPrivate, ID: chatID}
}

func InboxConversation(userID int64) ConversationRef {
	return ConversationRef{Kind: ConversationInbox, ID: userID}
}

// IsZero reports whether the ref names no conversation.
func (r ConversationRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

func (r ConversationRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseConversationRef parses a kind and id pair as found in stream routes.
func ParseConversationRef(kind, id string) (ConversationRef, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return ConversationRef{}, fmt.Errorf("invalid conversation id %q", id)
	}
	switch ConversationKind(strings.ToLower(kind)) {
	case ConversationProject:
		return ProjectConversation(n), nil
	case ConversationPrivate:
		return PrivateConversation(n), nil
	case ConversationInbox:
		return InboxConversation(n), nil
	}
	return ConversationRef{}, fmt.Errorf("invalid conversation kind %q", kind)
}

// ParseConversationKey is the inverse of ConversationRef.String.
func ParseConversationKey(key string) (ConversationRef, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return ConversationRef{}, fmt.Errorf("invalid conversation key %q", key)
	}
	return ParseConversationRef(kind, id)
}
