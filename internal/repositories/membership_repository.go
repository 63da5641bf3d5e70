package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"

	"unread-service/internal/models"
)

// MembershipRepository answers the authorization questions the unread core
// asks: who may observe or mark a conversation.
type MembershipRepository interface {
	IsProjectMember(ctx context.Context, projectID int64, userID int64) (bool, error)
	ProjectMemberIDs(ctx context.Context, projectID int64) ([]int64, error)
	IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error)
	GetChat(ctx context.Context, chatID int64) (models.PrivateChat, error)
	CreateOrGetChat(ctx context.Context, userID int64, otherID int64, projectID *int64) (models.PrivateChat, error)
	SystemRecipientIDs(ctx context.Context, messageID int64) ([]int64, error)
	IsSystemRecipient(ctx context.Context, messageID int64, userID int64) (bool, error)
	Ping(ctx context.Context) error
}

// MembershipRepo is a sqlx implementation of MembershipRepository.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// IsProjectMember checks active membership.
func (r *MembershipRepo) IsProjectMember(ctx context.Context, projectID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id=$1 AND user_id=$2 AND active)`, projectID, userID)
	return exists, classify(err)
}

// ProjectMemberIDs lists the active members of a project.
func (r *MembershipRepo) ProjectMemberIDs(ctx context.Context, projectID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM project_members WHERE project_id=$1 AND active ORDER BY user_id`, projectID)
	return ids, classify(err)
}

// IsParticipant checks whether a user belongs to the private chat.
func (r *MembershipRepo) IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM private_chats WHERE id=$1 AND (user1_id=$2 OR user2_id=$2))`, chatID, userID)
	return exists, classify(err)
}

// GetChat fetches a private chat by id.
func (r *MembershipRepo) GetChat(ctx context.Context, chatID int64) (models.PrivateChat, error) {
	var chat models.PrivateChat
	err := r.db.GetContext(ctx, &chat, `SELECT id, user1_id, user2_id, project_id, created_at FROM private_chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PrivateChat{}, ErrChatNotFound
	}
	return chat, classify(err)
}

// CreateOrGetChat returns the chat for the unordered pair, creating it on first use.
func (r *MembershipRepo) CreateOrGetChat(ctx context.Context, userID int64, otherID int64, projectID *int64) (models.PrivateChat, error) {
	if userID == otherID {
		return models.PrivateChat{}, errors.NotValidf("chat with self")
	}
	user1, user2 := userID, otherID
	if user1 > user2 {
		user1, user2 = user2, user1
	}

	var chat models.PrivateChat
	err := r.db.GetContext(ctx, &chat, `INSERT INTO private_chats (user1_id, user2_id, project_id) VALUES ($1, $2, $3)
        ON CONFLICT (user1_id, user2_id, COALESCE(project_id, 0)) DO UPDATE SET user1_id = EXCLUDED.user1_id
        RETURNING id, user1_id, user2_id, project_id, created_at`, user1, user2, projectID)
	return chat, classify(err)
}

// SystemRecipientIDs lists the users a system message is addressed to.
func (r *MembershipRepo) SystemRecipientIDs(ctx context.Context, messageID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT u.id FROM users u JOIN system_messages m ON m.id = $1
        WHERE m.broadcast_all OR EXISTS (SELECT 1 FROM system_message_targets t WHERE t.message_id = m.id AND t.user_id = u.id)
        ORDER BY u.id`, messageID)
	return ids, classify(err)
}

// IsSystemRecipient checks whether a system message addresses the user.
func (r *MembershipRepo) IsSystemRecipient(ctx context.Context, messageID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM system_messages m WHERE m.id=$1
        AND (m.broadcast_all OR EXISTS (SELECT 1 FROM system_message_targets t WHERE t.message_id = m.id AND t.user_id = $2)))`, messageID, userID)
	return exists, classify(err)
}

// Ping checks database reachability.
func (r *MembershipRepo) Ping(ctx context.Context) error {
	return classify(r.db.PingContext(ctx))
}
