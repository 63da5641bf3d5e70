// Package readstate transitions messages from unread to read for one user.
package readstate

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
	"unread-service/internal/observability"
	"unread-service/internal/repositories"
)

const (
	// MaxBatch caps the ids accepted by one batch request.
	MaxBatch = 500
	// KindAll selects every message kind for MarkAllRead.
	KindAll = "all"
)

// Result reports how many unread messages became read. Re-marking read
// messages yields zero.
type Result struct {
	Marked int `json:"markedCount"`
}

// ReadChecker decides whether a user is a recipient of a message.
type ReadChecker interface {
	CanRead(ctx context.Context, userID int64, msg models.Message) (bool, error)
}

// Notifier pushes events onto the delivery channel.
type Notifier interface {
	Publish(ctx context.Context, ref models.ConversationRef, event models.Event, excludeUserID int64)
}

// Invalidator drops cached conversation history.
type Invalidator interface {
	Invalidate(ref models.ConversationRef)
}

type Mutator struct {
	store    repositories.MessageRepository
	checker  ReadChecker
	cache    Invalidator
	notifier Notifier
	clock    clock.Clock
	log      *logger.Logger
}

// NewMutator constructs a Mutator. cache and notifier may be nil.
func NewMutator(store repositories.MessageRepository, checker ReadChecker, cache Invalidator, notifier Notifier, clk clock.Clock, log *logger.Logger) *Mutator {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Mutator{
		store:    store,
		checker:  checker,
		cache:    cache,
		notifier: notifier,
		clock:    clk,
		log:      log.Named("readstate"),
	}
}

// MarkRead marks one message read. A missing or deleted message is NotFound,
// a message the user was not sent is Forbidden, and a private message the
// user wrote is left untouched.
func (m *Mutator) MarkRead(ctx context.Context, userID int64, kind models.Kind, messageID int64) (Result, error) {
	if userID <= 0 {
		return Result{}, errors.Unauthorizedf("no current user")
	}
	parsed, err := models.ParseKind(string(kind))
	if err != nil {
		return Result{}, errors.NotValidf("message type %q", kind)
	}
	kind = parsed
	if messageID <= 0 {
		return Result{}, errors.NotValidf("message id %d", messageID)
	}

	var msg models.Message
	err = repositories.Retry(ctx, m.clock, func() error {
		var err error
		msg, err = m.store.GetMessage(ctx, kind, messageID)
		return err
	})
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return Result{}, errors.NotFoundf("%s message %d", kind, messageID)
	}
	if err != nil {
		return Result{}, errors.Annotatef(err, "loading %s message %d", kind, messageID)
	}
	if msg.IsDeleted {
		return Result{}, errors.NotFoundf("%s message %d", kind, messageID)
	}

	allowed, err := m.checker.CanRead(ctx, userID, msg)
	if err != nil {
		return Result{}, errors.Annotatef(err, "authorizing read of %s message %d", kind, messageID)
	}
	if !allowed {
		return Result{}, errors.Forbiddenf("%s message %d is not addressed to user %d", kind, messageID, userID)
	}
	if kind == models.KindPrivate && msg.AuthoredBy(userID) {
		return Result{}, nil
	}

	return m.apply(ctx, userID, func() ([]models.Message, error) {
		return m.store.MarkRead(ctx, userID, kind, []int64{messageID})
	})
}

// MarkBatchRead marks ids of one kind read in a single transaction. Ids the
// user may not read are skipped by the store.
func (m *Mutator) MarkBatchRead(ctx context.Context, userID int64, kind models.Kind, ids []int64) (Result, error) {
	if userID <= 0 {
		return Result{}, errors.Unauthorizedf("no current user")
	}
	parsed, err := models.ParseKind(string(kind))
	if err != nil {
		return Result{}, errors.NotValidf("message type %q", kind)
	}
	kind = parsed
	if len(ids) == 0 {
		return Result{}, errors.NotValidf("empty message id batch")
	}
	if len(ids) > MaxBatch {
		return Result{}, errors.NotValidf("batch of %d ids (max %d)", len(ids), MaxBatch)
	}
	unique, err := dedupe(ids)
	if err != nil {
		return Result{}, err
	}

	return m.apply(ctx, userID, func() ([]models.Message, error) {
		return m.store.MarkRead(ctx, userID, kind, unique)
	})
}

// MarkAllRead marks every unread message of kind read. KindAll covers the
// three kinds in one transaction.
func (m *Mutator) MarkAllRead(ctx context.Context, userID int64, kind string) (Result, error) {
	if userID <= 0 {
		return Result{}, errors.Unauthorizedf("no current user")
	}
	var kinds []models.Kind
	if strings.EqualFold(strings.TrimSpace(kind), KindAll) {
		kinds = models.Kinds
	} else {
		k, err := models.ParseKind(kind)
		if err != nil {
			return Result{}, errors.NotValidf("message type %q", kind)
		}
		kinds = []models.Kind{k}
	}

	return m.apply(ctx, userID, func() ([]models.Message, error) {
		return m.store.MarkAllRead(ctx, userID, kinds)
	})
}

func (m *Mutator) apply(ctx context.Context, userID int64, write func() ([]models.Message, error)) (Result, error) {
	var marked []models.Message
	err := repositories.Retry(ctx, m.clock, func() error {
		var err error
		marked, err = write()
		return err
	})
	if err != nil {
		return Result{}, errors.Annotatef(err, "marking messages read for user %d", userID)
	}
	if len(marked) > 0 {
		m.announce(ctx, userID, marked)
	}
	return Result{Marked: len(marked)}, nil
}

type readGroup struct {
	ref  models.ConversationRef
	kind models.Kind
	ids  []int64
}

// announce runs the side effects of a successful mark: cache invalidation,
// read receipts on each conversation and the reader's inbox, and the
// message.read domain event.
func (m *Mutator) announce(ctx context.Context, userID int64, marked []models.Message) {
	byConversation := map[models.ConversationRef]*readGroup{}
	byKind := map[models.Kind][]int64{}
	for _, msg := range marked {
		byKind[msg.Kind] = append(byKind[msg.Kind], msg.ID)
		ref := msg.Conversation()
		if ref.IsZero() {
			continue
		}
		g, ok := byConversation[ref]
		if !ok {
			g = &readGroup{ref: ref, kind: msg.Kind}
			byConversation[ref] = g
		}
		g.ids = append(g.ids, msg.ID)
	}

	for _, g := range byConversation {
		if m.cache != nil {
			m.cache.Invalidate(g.ref)
		}
		if m.notifier != nil {
			m.notifier.Publish(ctx, g.ref, models.NewReadEvent(g.ref, g.kind, userID, g.ids), userID)
		}
	}

	inbox := models.InboxConversation(userID)
	for _, kind := range models.Kinds {
		ids := byKind[kind]
		if len(ids) == 0 {
			continue
		}
		observability.AddMarkedRead(string(kind), len(ids))
		if m.notifier != nil {
			m.notifier.Publish(ctx, inbox, models.NewReadEvent(inbox, kind, userID, ids), 0)
		}

		payload := map[string]interface{}{
			"user_id":      userID,
			"message_type": kind,
			"message_ids":  ids,
		}
		err := observability.PublishEvent(ctx, observability.RoutingMessageRead,
			observability.NewEnvelope("message_events", observability.RoutingMessageRead, payload),
			observability.HeadersFromContext(ctx))
		if err != nil {
			m.log.Warn("publish message.read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func dedupe(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, errors.NotValidf("message id %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
