package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unread-service/internal/models"
)

var messageColumns = []string{"id", "kind", "sender_id", "receiver_id", "conversation_id", "content", "is_read", "read_at", "is_deleted", "created_at"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCountUnreadByKind(t *testing.T) {
	tests := []struct {
		kind  models.Kind
		query string
	}{
		{models.KindSystem, `SELECT COUNT\(\*\) FROM system_messages m WHERE`},
		{models.KindProject, `SELECT COUNT\(\*\) FROM project_messages m JOIN project_members pm`},
		{models.KindPrivate, `SELECT COUNT\(\*\) FROM private_messages m WHERE m.receiver_id = \$1`},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(tt.query).WithArgs(int64(5)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

			n, err := NewMessageRepo(db).CountUnread(context.Background(), 5, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCountUnreadRejectsUnknownKind(t *testing.T) {
	db, mock := newMockDB(t)
	_, err := NewMessageRepo(db).CountUnread(context.Background(), 5, models.Kind("email"))
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnreadClassifiesTransientErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"serialization", &pq.Error{Code: "40001"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"syntax", &pq.Error{Code: "42601"}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(`SELECT COUNT`).WillReturnError(tt.err)

			_, err := NewMessageRepo(db).CountUnread(context.Background(), 5, models.KindPrivate)
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.Is(err, ErrTransient))
		})
	}
}

func TestGetMessageNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM private_messages m WHERE m.id=\$1`).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(messageColumns))

	_, err := NewMessageRepo(db).GetMessage(context.Background(), models.KindPrivate, 9)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageIncludesDeleted(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`FROM project_messages m WHERE m.id=\$1`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(4, "project", 1, nil, 7, "gone", false, nil, true, now))

	msg, err := NewMessageRepo(db).GetMessage(context.Background(), models.KindProject, 4)
	require.NoError(t, err)
	assert.True(t, msg.IsDeleted)
	assert.Equal(t, models.ProjectConversation(7), msg.Conversation())
}

func TestListConversationOrdersOldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`FROM private_messages m WHERE m.chat_id=\$1 AND m.is_deleted = FALSE ORDER BY m.created_at ASC, m.id ASC`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(1, "private", 1, 2, 3, "hi", true, now, false, now).
			AddRow(2, "private", 2, 1, 3, "hey", false, nil, false, now.Add(time.Second)))

	msgs, err := NewMessageRepo(db).ListConversation(context.Background(), models.PrivateConversation(3))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	require.NotNil(t, msgs[1].ReceiverID)
	assert.Equal(t, int64(1), *msgs[1].ReceiverID)
}

func TestListConversationRejectsInbox(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewMessageRepo(db).ListConversation(context.Background(), models.InboxConversation(1))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestMarkReadPrivateInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE private_messages m SET is_read = TRUE`).
		WithArgs(int64(2), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(10, "private", 1, 2, 3, "hi", true, now, false, now))
	mock.ExpectCommit()

	marked, err := NewMessageRepo(db).MarkRead(context.Background(), 2, models.KindPrivate, []int64{10, 11})
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, int64(10), marked[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadEmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	marked, err := NewMessageRepo(db).MarkRead(context.Background(), 2, models.KindPrivate, nil)
	require.NoError(t, err)
	assert.Empty(t, marked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllReadRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO system_message_reads`).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery(`INSERT INTO project_message_reads`).WithArgs(int64(2)).
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	_, err := NewMessageRepo(db).MarkAllRead(context.Background(), 2, models.Kinds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSystemMessageWithTargets(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	sender := int64(1)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO system_messages`).WithArgs(int64(1), "maintenance", false).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(5, "system", 1, nil, 0, "maintenance", false, nil, false, now))
	mock.ExpectExec(`INSERT INTO system_message_targets`).WithArgs(int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	msg, err := NewMessageRepo(db).CreateSystemMessage(context.Background(), &sender, "maintenance", []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, models.KindSystem, msg.Kind)
	assert.True(t, msg.Conversation().IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteMissingMessage(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE project_messages SET is_deleted = TRUE WHERE id=\$1`).WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewMessageRepo(db).SoftDelete(context.Background(), models.KindProject, 8)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGetChatNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM private_chats WHERE id=\$1`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "project_id", "created_at"}))

	_, err := NewMembershipRepo(db).GetChat(context.Background(), 4)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestCreateOrGetChatOrdersPair(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO private_chats`).WithArgs(int64(3), int64(9), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "project_id", "created_at"}).AddRow(1, 3, 9, nil, now))

	chat, err := NewMembershipRepo(db).CreateOrGetChat(context.Background(), 9, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), chat.Other(3))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = NewMembershipRepo(db).CreateOrGetChat(context.Background(), 3, 3, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestIsProjectMember(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM project_members`).WithArgs(int64(7), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewMembershipRepo(db).IsProjectMember(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
