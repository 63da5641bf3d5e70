// Package access decides who may observe a conversation or mark a message.
package access

import (
	"context"

	"github.com/juju/errors"

	"unread-service/internal/models"
	"unread-service/internal/repositories"
)

// Checker answers authorization questions from membership lookups.
type Checker struct {
	members repositories.MembershipRepository
}

// NewChecker constructs a Checker.
func NewChecker(members repositories.MembershipRepository) *Checker {
	return &Checker{members: members}
}

// CanObserve reports whether userID may subscribe to ref. Inboxes belong to
// their owner only.
func (c *Checker) CanObserve(ctx context.Context, userID int64, ref models.ConversationRef) (bool, error) {
	switch ref.Kind {
	case models.ConversationInbox:
		return ref.ID == userID, nil
	case models.ConversationProject:
		return c.members.IsProjectMember(ctx, ref.ID, userID)
	case models.ConversationPrivate:
		return c.members.IsParticipant(ctx, ref.ID, userID)
	}
	return false, errors.NotValidf("conversation %s", ref)
}

// CanRead reports whether userID is an intended recipient of msg.
func (c *Checker) CanRead(ctx context.Context, userID int64, msg models.Message) (bool, error) {
	switch msg.Kind {
	case models.KindSystem:
		return c.members.IsSystemRecipient(ctx, msg.ID, userID)
	case models.KindProject:
		return c.members.IsProjectMember(ctx, msg.ConversationID, userID)
	case models.KindPrivate:
		return (msg.ReceiverID != nil && *msg.ReceiverID == userID) || msg.AuthoredBy(userID), nil
	}
	return false, errors.NotValidf("message type %q", msg.Kind)
}

// Recipients lists who should receive inbox hints for msg, sender excluded.
func (c *Checker) Recipients(ctx context.Context, msg models.Message) ([]int64, error) {
	var ids []int64
	switch msg.Kind {
	case models.KindSystem:
		recipients, err := c.members.SystemRecipientIDs(ctx, msg.ID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ids = recipients
	case models.KindProject:
		members, err := c.members.ProjectMemberIDs(ctx, msg.ConversationID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ids = members
	case models.KindPrivate:
		if msg.ReceiverID != nil {
			ids = []int64{*msg.ReceiverID}
		}
	default:
		return nil, errors.NotValidf("message type %q", msg.Kind)
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !msg.AuthoredBy(id) {
			out = append(out, id)
		}
	}
	return out, nil
}
