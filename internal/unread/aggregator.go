// Package unread computes per-user unread counts across message sources.
package unread

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
	"unread-service/internal/repositories"
)

const (
	// PreviewLength is the number of runes kept in a dropdown preview.
	PreviewLength = 50
	DefaultRecent = 10
	MaxRecent     = 50
)

// Aggregator derives unread snapshots from the message store on every call.
type Aggregator struct {
	store repositories.MessageRepository
	clock clock.Clock
	log   *logger.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store repositories.MessageRepository, clk clock.Clock, log *logger.Logger) *Aggregator {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.Global()
	}
	return &Aggregator{store: store, clock: clk, log: log.Named("unread")}
}

// Snapshot counts the user's unread messages per kind. An unknown user gets
// an all-zero snapshot rather than an error.
func (a *Aggregator) Snapshot(ctx context.Context, userID int64) (models.UnreadSnapshot, error) {
	var snapshot models.UnreadSnapshot
	if userID <= 0 {
		return snapshot, nil
	}

	var exists bool
	err := repositories.Retry(ctx, a.clock, func() error {
		var err error
		exists, err = a.store.UserExists(ctx, userID)
		return err
	})
	if err != nil {
		return snapshot, errors.Annotatef(err, "checking user %d", userID)
	}
	if !exists {
		a.log.Debug("snapshot for unknown user", zap.Int64("user_id", userID))
		return snapshot, nil
	}

	for _, kind := range models.Kinds {
		n, err := a.count(ctx, userID, kind)
		if err != nil {
			return models.UnreadSnapshot{}, errors.Annotatef(err, "counting %s messages", kind)
		}
		snapshot.Set(kind, n)
	}
	return snapshot, nil
}

func (a *Aggregator) count(ctx context.Context, userID int64, kind models.Kind) (int, error) {
	switch kind {
	case models.KindSystem, models.KindProject, models.KindPrivate:
	default:
		return 0, errors.NotValidf("message type %q", kind)
	}
	var n int
	err := repositories.Retry(ctx, a.clock, func() error {
		var err error
		n, err = a.store.CountUnread(ctx, userID, kind)
		return err
	})
	return n, err
}

// Recent returns the newest unread items with a truncated preview.
func (a *Aggregator) Recent(ctx context.Context, userID int64, limit int) ([]models.RecentItem, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecent
	case limit > MaxRecent:
		limit = MaxRecent
	}

	var items []models.RecentItem
	err := repositories.Retry(ctx, a.clock, func() error {
		var err error
		items, err = a.store.RecentUnread(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, errors.Annotate(err, "loading recent unread")
	}
	for i := range items {
		items[i].Preview = Preview(items[i].Content)
	}
	if items == nil {
		items = []models.RecentItem{}
	}
	return items, nil
}

// Preview keeps the first PreviewLength runes and appends an ellipsis when
// content was cut.
func Preview(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "..."
}
