package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConversationKey(t *testing.T) {
	ref, err := ParseConversationKey("project:7")
	require.NoError(t, err)
	assert.Equal(t, ProjectConversation(7), ref)
	assert.Equal(t, "project:7", ref.String())

	ref, err = ParseConversationRef("INBOX", "3")
	require.NoError(t, err)
	assert.Equal(t, InboxConversation(3), ref)

	for _, bad := range []string{"project", "project:0", "project:x", "group:1", ""} {
		_, err := ParseConversationKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Private ")
	require.NoError(t, err)
	assert.Equal(t, KindPrivate, k)

	_, err = ParseKind("all")
	assert.Error(t, err)
}

func TestSnapshotNeverNegative(t *testing.T) {
	s := NewUnreadSnapshot(2, -1, 3)
	assert.Equal(t, 0, s.Project)
	assert.Equal(t, 5, s.Total)

	s.Set(KindSystem, 0)
	assert.Equal(t, 3, s.Total)

	resp := s.Response()
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, Breakdown{System: 0, Project: 0, Private: 3}, resp.Breakdown)
}

func TestMessageConversationAndOrdering(t *testing.T) {
	sender := int64(1)
	now := time.Now()
	a := Message{ID: 2, Kind: KindProject, SenderID: &sender, ConversationID: 7, CreatedAt: now}
	b := Message{ID: 1, Kind: KindProject, ConversationID: 7, CreatedAt: now.Add(time.Second)}
	c := Message{ID: 3, Kind: KindProject, ConversationID: 7, CreatedAt: now}

	assert.Equal(t, ProjectConversation(7), a.Conversation())
	assert.True(t, a.Conversation() == b.Conversation())
	assert.True(t, Message{Kind: KindSystem}.Conversation().IsZero())
	assert.True(t, a.Before(b))
	assert.True(t, a.Before(c), "ties break on id")
	assert.True(t, a.AuthoredBy(1))
	assert.False(t, b.AuthoredBy(1))
	assert.Equal(t, "project:2", a.Key())
}

func TestPrivateChatOther(t *testing.T) {
	chat := PrivateChat{ID: 1, User1ID: 3, User2ID: 9}
	assert.Equal(t, int64(9), chat.Other(3))
	assert.Equal(t, int64(3), chat.Other(9))
	assert.False(t, chat.HasParticipant(4))
}
