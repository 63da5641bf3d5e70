package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"unread-service/internal/models"
	"unread-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) UserExists(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, userID int64, kind models.Kind) (int, error) {
	args := m.Called(ctx, userID, kind)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) RecentUnread(ctx context.Context, userID int64, limit int) ([]models.RecentItem, error) {
	args := m.Called(ctx, userID, limit)
	var items []models.RecentItem
	if val := args.Get(0); val != nil {
		items = val.([]models.RecentItem)
	}
	return items, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, kind models.Kind, messageID int64) (models.Message, error) {
	args := m.Called(ctx, kind, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, ref models.ConversationRef) ([]models.Message, error) {
	args := m.Called(ctx, ref)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, userID int64, kind models.Kind, ids []int64) ([]models.Message, error) {
	args := m.Called(ctx, userID, kind, ids)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkAllRead(ctx context.Context, userID int64, kinds []models.Kind) ([]models.Message, error) {
	args := m.Called(ctx, userID, kinds)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateSystemMessage(ctx context.Context, senderID *int64, content string, targetIDs []int64) (models.Message, error) {
	args := m.Called(ctx, senderID, content, targetIDs)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) CreateProjectMessage(ctx context.Context, projectID int64, senderID int64, content string) (models.Message, error) {
	args := m.Called(ctx, projectID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) CreatePrivateMessage(ctx context.Context, chatID int64, senderID int64, receiverID int64, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, receiverID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, kind models.Kind, messageID int64) error {
	args := m.Called(ctx, kind, messageID)
	return args.Error(0)
}

type MembershipRepositoryMock struct {
	mock.Mock
}

func (m *MembershipRepositoryMock) IsProjectMember(ctx context.Context, projectID int64, userID int64) (bool, error) {
	args := m.Called(ctx, projectID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MembershipRepositoryMock) ProjectMemberIDs(ctx context.Context, projectID int64) ([]int64, error) {
	args := m.Called(ctx, projectID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MembershipRepositoryMock) IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MembershipRepositoryMock) GetChat(ctx context.Context, chatID int64) (models.PrivateChat, error) {
	args := m.Called(ctx, chatID)
	var chat models.PrivateChat
	if val := args.Get(0); val != nil {
		chat = val.(models.PrivateChat)
	}
	return chat, args.Error(1)
}

func (m *MembershipRepositoryMock) CreateOrGetChat(ctx context.Context, userID int64, otherID int64, projectID *int64) (models.PrivateChat, error) {
	args := m.Called(ctx, userID, otherID, projectID)
	var chat models.PrivateChat
	if val := args.Get(0); val != nil {
		chat = val.(models.PrivateChat)
	}
	return chat, args.Error(1)
}

func (m *MembershipRepositoryMock) SystemRecipientIDs(ctx context.Context, messageID int64) ([]int64, error) {
	args := m.Called(ctx, messageID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MembershipRepositoryMock) IsSystemRecipient(ctx context.Context, messageID int64, userID int64) (bool, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MembershipRepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.MembershipRepository = (*MembershipRepositoryMock)(nil)
