package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"unread-service/internal/models"
)

// MessageRepository is the Message Store: the only component that writes
// messages and read markers.
type MessageRepository interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	CountUnread(ctx context.Context, userID int64, kind models.Kind) (int, error)
	RecentUnread(ctx context.Context, userID int64, limit int) ([]models.RecentItem, error)
	GetMessage(ctx context.Context, kind models.Kind, messageID int64) (models.Message, error)
	ListConversation(ctx context.Context, ref models.ConversationRef) ([]models.Message, error)
	// MarkRead marks ids of kind read for userID in one transaction and
	// returns the messages that were unread before the call.
	MarkRead(ctx context.Context, userID int64, kind models.Kind, ids []int64) ([]models.Message, error)
	// MarkAllRead marks every unread message of the given kinds read in one
	// transaction and returns the messages that transitioned.
	MarkAllRead(ctx context.Context, userID int64, kinds []models.Kind) ([]models.Message, error)
	CreateSystemMessage(ctx context.Context, senderID *int64, content string, targetIDs []int64) (models.Message, error)
	CreateProjectMessage(ctx context.Context, projectID int64, senderID int64, content string) (models.Message, error)
	CreatePrivateMessage(ctx context.Context, chatID int64, senderID int64, receiverID int64, content string) (models.Message, error)
	SoftDelete(ctx context.Context, kind models.Kind, messageID int64) error
}

const (
	systemColumns = `m.id, 'system' AS kind, m.sender_id, NULL::BIGINT AS receiver_id, 0::BIGINT AS conversation_id,
        m.content, FALSE AS is_read, NULL::TIMESTAMPTZ AS read_at, m.is_deleted, m.created_at`
	projectColumns = `m.id, 'project' AS kind, m.sender_id, NULL::BIGINT AS receiver_id, m.project_id AS conversation_id,
        m.content, FALSE AS is_read, NULL::TIMESTAMPTZ AS read_at, m.is_deleted, m.created_at`
	privateColumns = `m.id, 'private' AS kind, m.sender_id, m.receiver_id, m.chat_id AS conversation_id,
        m.content, m.is_read, m.read_at, m.is_deleted, m.created_at`

	// $1 is always the user id.
	systemUnreadWhere = `m.is_deleted = FALSE
        AND (m.broadcast_all OR EXISTS (SELECT 1 FROM system_message_targets t WHERE t.message_id = m.id AND t.user_id = $1))
        AND NOT EXISTS (SELECT 1 FROM system_message_reads r WHERE r.message_id = m.id AND r.user_id = $1 AND r.is_read)`
	projectUnreadFrom  = `project_messages m JOIN project_members pm ON pm.project_id = m.project_id AND pm.user_id = $1 AND pm.active`
	projectUnreadWhere = `m.is_deleted = FALSE AND m.sender_id <> $1
        AND NOT EXISTS (SELECT 1 FROM project_message_reads r WHERE r.message_id = m.id AND r.user_id = $1)`
	privateUnreadWhere = `m.receiver_id = $1 AND m.is_read = FALSE AND m.is_deleted = FALSE`
)

// MessageRepo is a sqlx-backed MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// UserExists reports whether the user row is present.
func (r *MessageRepo) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID)
	return exists, classify(err)
}

// CountUnread counts unread messages of one kind for userID.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int64, kind models.Kind) (int, error) {
	ctx, span := otel.Tracer("unread-service/store").Start(ctx, "store.count_unread")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)))

	var query string
	switch kind {
	case models.KindSystem:
		query = `SELECT COUNT(*) FROM system_messages m WHERE ` + systemUnreadWhere
	case models.KindProject:
		query = `SELECT COUNT(*) FROM ` + projectUnreadFrom + ` WHERE ` + projectUnreadWhere
	case models.KindPrivate:
		query = `SELECT COUNT(*) FROM private_messages m WHERE ` + privateUnreadWhere
	default:
		return 0, errors.NotValidf("message type %q", kind)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// RecentUnread returns the newest unread messages across all kinds.
func (r *MessageRepo) RecentUnread(ctx context.Context, userID int64, limit int) ([]models.RecentItem, error) {
	query := `SELECT kind, id, sender_id, conversation_id, content, created_at FROM (
            SELECT 'system' AS kind, m.id, m.sender_id, 0::BIGINT AS conversation_id, m.content, m.created_at
            FROM system_messages m WHERE ` + systemUnreadWhere + `
            UNION ALL
            SELECT 'project', m.id, m.sender_id, m.project_id, m.content, m.created_at
            FROM ` + projectUnreadFrom + ` WHERE ` + projectUnreadWhere + `
            UNION ALL
            SELECT 'private', m.id, m.sender_id, m.chat_id, m.content, m.created_at
            FROM private_messages m WHERE ` + privateUnreadWhere + `
        ) u ORDER BY created_at DESC, id DESC LIMIT $2`
	var items []models.RecentItem
	if err := r.db.SelectContext(ctx, &items, query, userID, limit); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

// GetMessage fetches a single message, including soft-deleted ones.
func (r *MessageRepo) GetMessage(ctx context.Context, kind models.Kind, messageID int64) (models.Message, error) {
	var query string
	switch kind {
	case models.KindSystem:
		query = `SELECT ` + systemColumns + ` FROM system_messages m WHERE m.id=$1`
	case models.KindProject:
		query = `SELECT ` + projectColumns + ` FROM project_messages m WHERE m.id=$1`
	case models.KindPrivate:
		query = `SELECT ` + privateColumns + ` FROM private_messages m WHERE m.id=$1`
	default:
		return models.Message{}, errors.NotValidf("message type %q", kind)
	}
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, classify(err)
}

// ListConversation returns the visible messages of a project or private chat
// ordered by creation time, id breaking ties.
func (r *MessageRepo) ListConversation(ctx context.Context, ref models.ConversationRef) ([]models.Message, error) {
	var query string
	switch ref.Kind {
	case models.ConversationProject:
		query = `SELECT ` + projectColumns + ` FROM project_messages m WHERE m.project_id=$1 AND m.is_deleted = FALSE ORDER BY m.created_at ASC, m.id ASC`
	case models.ConversationPrivate:
		query = `SELECT ` + privateColumns + ` FROM private_messages m WHERE m.chat_id=$1 AND m.is_deleted = FALSE ORDER BY m.created_at ASC, m.id ASC`
	default:
		return nil, errors.NotValidf("conversation %s", ref)
	}
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, ref.ID); err != nil {
		return nil, classify(err)
	}
	return msgs, nil
}

// MarkRead applies read markers for ids. Already-read, foreign and deleted
// ids are skipped rather than reported.
func (r *MessageRepo) MarkRead(ctx context.Context, userID int64, kind models.Kind, ids []int64) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var marked []models.Message
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		marked, err = markRead(ctx, tx, userID, kind, ids)
		return err
	})
	return marked, err
}

// MarkAllRead marks every unread message of kinds read in one transaction.
func (r *MessageRepo) MarkAllRead(ctx context.Context, userID int64, kinds []models.Kind) ([]models.Message, error) {
	var marked []models.Message
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		marked = nil
		for _, kind := range kinds {
			msgs, err := markRead(ctx, tx, userID, kind, nil)
			if err != nil {
				return err
			}
			marked = append(marked, msgs...)
		}
		return nil
	})
	return marked, err
}

// markRead marks ids read, or every unread message when ids is nil.
func markRead(ctx context.Context, tx *sqlx.Tx, userID int64, kind models.Kind, ids []int64) ([]models.Message, error) {
	filter := ""
	args := []interface{}{userID}
	if ids != nil {
		filter = ` AND m.id = ANY($2)`
		args = append(args, pq.Array(ids))
	}

	var query string
	switch kind {
	case models.KindSystem:
		query = `WITH marked AS (
                INSERT INTO system_message_reads (message_id, user_id, is_read, read_at)
                SELECT m.id, $1, TRUE, NOW() FROM system_messages m WHERE ` + systemUnreadWhere + filter + `
                ON CONFLICT (message_id, user_id) DO UPDATE SET is_read = TRUE, read_at = EXCLUDED.read_at
                WHERE system_message_reads.is_read = FALSE
                RETURNING message_id
            )
            SELECT ` + systemColumns + ` FROM system_messages m JOIN marked ON marked.message_id = m.id`
	case models.KindProject:
		query = `WITH marked AS (
                INSERT INTO project_message_reads (message_id, user_id, read_at)
                SELECT m.id, $1, NOW() FROM ` + projectUnreadFrom + ` WHERE ` + projectUnreadWhere + filter + `
                ON CONFLICT (message_id, user_id) DO NOTHING
                RETURNING message_id
            )
            SELECT ` + projectColumns + ` FROM project_messages m JOIN marked ON marked.message_id = m.id`
	case models.KindPrivate:
		query = `UPDATE private_messages m SET is_read = TRUE, read_at = NOW()
            WHERE ` + privateUnreadWhere + filter + `
            RETURNING ` + privateColumns
	default:
		return nil, errors.NotValidf("message type %q", kind)
	}

	var marked []models.Message
	if err := tx.SelectContext(ctx, &marked, query, args...); err != nil {
		return nil, classify(err)
	}
	return marked, nil
}

// CreateSystemMessage stores a broadcast. An empty target list addresses every user.
func (r *MessageRepo) CreateSystemMessage(ctx context.Context, senderID *int64, content string, targetIDs []int64) (models.Message, error) {
	var msg models.Message
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &msg, `INSERT INTO system_messages AS m (sender_id, content, broadcast_all)
            VALUES ($1, $2, $3) RETURNING `+systemColumns, senderID, content, len(targetIDs) == 0)
		if err != nil {
			return classify(err)
		}
		if len(targetIDs) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO system_message_targets (message_id, user_id)
            SELECT $1, UNNEST($2::BIGINT[]) ON CONFLICT DO NOTHING`, msg.ID, pq.Array(targetIDs))
		return classify(err)
	})
	return msg, err
}

// CreateProjectMessage stores a project chat message.
func (r *MessageRepo) CreateProjectMessage(ctx context.Context, projectID int64, senderID int64, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO project_messages AS m (project_id, sender_id, content)
        VALUES ($1, $2, $3) RETURNING `+projectColumns, projectID, senderID, content)
	return msg, classify(err)
}

// CreatePrivateMessage stores a private chat message addressed to receiverID.
func (r *MessageRepo) CreatePrivateMessage(ctx context.Context, chatID int64, senderID int64, receiverID int64, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO private_messages AS m (chat_id, sender_id, receiver_id, content)
        VALUES ($1, $2, $3, $4) RETURNING `+privateColumns, chatID, senderID, receiverID, content)
	return msg, classify(err)
}

// SoftDelete hides a message from display and from every unread count.
func (r *MessageRepo) SoftDelete(ctx context.Context, kind models.Kind, messageID int64) error {
	var table string
	switch kind {
	case models.KindSystem:
		table = "system_messages"
	case models.KindProject:
		table = "project_messages"
	case models.KindPrivate:
		table = "private_messages"
	default:
		return errors.NotValidf("message type %q", kind)
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET is_deleted = TRUE WHERE id=$1`, table), messageID)
	if err != nil {
		return classify(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return classify(tx.Commit())
}
