package readstate

import (
	"context"
	"sync"
	"testing"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unread-service/internal/access"
	"unread-service/internal/cache"
	"unread-service/internal/logger"
	"unread-service/internal/models"
	"unread-service/internal/repositories"
	"unread-service/internal/unread"
)

type published struct {
	ref     models.ConversationRef
	event   models.Event
	exclude int64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(_ context.Context, ref models.ConversationRef, event models.Event, excludeUserID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{ref: ref, event: event, exclude: excludeUserID})
}

func (n *recordingNotifier) on(ref models.ConversationRef) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []published
	for _, p := range n.events {
		if p.ref == ref {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	store    *repositories.MemoryStore
	agg      *unread.Aggregator
	mutator  *Mutator
	notifier *recordingNotifier
	cache    *cache.MessageCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	notifier := &recordingNotifier{}
	c := cache.New(16, 0, nil)
	return &fixture{
		store:    store,
		agg:      unread.NewAggregator(store, clock.WallClock, logger.Nop()),
		mutator:  NewMutator(store, access.NewChecker(store), c, notifier, clock.WallClock, logger.Nop()),
		notifier: notifier,
		cache:    c,
	}
}

func (f *fixture) snapshot(t *testing.T, userID int64) models.UnreadSnapshot {
	t.Helper()
	s, err := f.agg.Snapshot(context.Background(), userID)
	require.NoError(t, err)
	return s
}

func TestPrivateMessageReadByReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddUser(1)
	f.store.AddUser(2)
	chat, err := f.store.CreateOrGetChat(ctx, 1, 2, nil)
	require.NoError(t, err)
	msg, err := f.store.CreatePrivateMessage(ctx, chat.ID, 1, 2, "hello")
	require.NoError(t, err)
	f.cache.Put(models.PrivateConversation(chat.ID), []models.Message{msg})

	assert.Equal(t, 1, f.snapshot(t, 2).Private)

	res, err := f.mutator.MarkRead(ctx, 2, models.KindPrivate, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, 0, f.snapshot(t, 2).Private)

	_, cached := f.cache.Get(models.PrivateConversation(chat.ID))
	assert.False(t, cached)

	receipts := f.notifier.on(models.PrivateConversation(chat.ID))
	require.Len(t, receipts, 1)
	assert.Equal(t, models.EventRead, receipts[0].event.Type)
	assert.Equal(t, []int64{msg.ID}, receipts[0].event.MessageIDs)
	assert.Equal(t, int64(2), receipts[0].exclude)
	assert.Len(t, f.notifier.on(models.InboxConversation(2)), 1)

	again, err := f.mutator.MarkRead(ctx, 2, models.KindPrivate, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Marked)
	assert.Len(t, f.notifier.on(models.PrivateConversation(chat.ID)), 1)
}

func TestPrivateMessageMarkedBySenderIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.store.CreateOrGetChat(ctx, 1, 2, nil)
	require.NoError(t, err)
	msg, err := f.store.CreatePrivateMessage(ctx, chat.ID, 1, 2, "hello")
	require.NoError(t, err)

	res, err := f.mutator.MarkRead(ctx, 1, models.KindPrivate, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Marked)

	stored, err := f.store.GetMessage(ctx, models.KindPrivate, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRead)
}

func TestSystemBroadcastMarkAllReadIsPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSystemMessage(ctx, nil, "maintenance tonight", []int64{10, 11, 12})
	require.NoError(t, err)

	for _, id := range []int64{10, 11, 12} {
		assert.Equal(t, 1, f.snapshot(t, id).System)
	}

	res, err := f.mutator.MarkAllRead(ctx, 10, "system")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)

	assert.Equal(t, 0, f.snapshot(t, 10).System)
	assert.Equal(t, 1, f.snapshot(t, 11).System)
	assert.Equal(t, 1, f.snapshot(t, 12).System)
}

func TestProjectMessageSelfExclusionAndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetProjectMember(7, 1, true)
	f.store.SetProjectMember(7, 2, true)
	msg, err := f.store.CreateProjectMessage(ctx, 7, 1, "standup in 5")
	require.NoError(t, err)

	assert.Equal(t, 1, f.snapshot(t, 2).Project)
	assert.Equal(t, 0, f.snapshot(t, 1).Project)

	res, err := f.mutator.MarkBatchRead(ctx, 2, models.KindProject, []int64{msg.ID, msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, 0, f.snapshot(t, 2).Project)
}

func TestMarkAllReadAcrossKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetProjectMember(7, 1, true)
	f.store.SetProjectMember(7, 2, true)
	_, err := f.store.CreateProjectMessage(ctx, 7, 1, "p")
	require.NoError(t, err)
	_, err = f.store.CreateSystemMessage(ctx, nil, "s", []int64{2})
	require.NoError(t, err)
	chat, err := f.store.CreateOrGetChat(ctx, 1, 2, nil)
	require.NoError(t, err)
	_, err = f.store.CreatePrivateMessage(ctx, chat.ID, 1, 2, "d")
	require.NoError(t, err)
	require.Equal(t, 3, f.snapshot(t, 2).Total)

	res, err := f.mutator.MarkAllRead(ctx, 2, "ALL")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Marked)
	assert.Equal(t, models.UnreadSnapshot{}, f.snapshot(t, 2))
	assert.Len(t, f.notifier.on(models.InboxConversation(2)), 3)
}

func TestBatchSkipsMessagesNotAddressedToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetProjectMember(7, 1, true)
	f.store.SetProjectMember(7, 2, true)
	f.store.AddUser(3)
	msg, err := f.store.CreateProjectMessage(ctx, 7, 1, "members only")
	require.NoError(t, err)

	res, err := f.mutator.MarkBatchRead(ctx, 3, models.KindProject, []int64{msg.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Marked)
	assert.Equal(t, 1, f.snapshot(t, 2).Project)
}

func TestMarkReadNormalizesMessageType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetProjectMember(7, 1, true)
	f.store.SetProjectMember(7, 2, true)
	first, err := f.store.CreateProjectMessage(ctx, 7, 1, "one")
	require.NoError(t, err)
	second, err := f.store.CreateProjectMessage(ctx, 7, 1, "two")
	require.NoError(t, err)

	res, err := f.mutator.MarkRead(ctx, 2, models.Kind(" Project "), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)

	res, err = f.mutator.MarkBatchRead(ctx, 2, models.Kind("PROJECT"), []int64{second.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, 0, f.snapshot(t, 2).Project)
}

func TestMarkReadErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetProjectMember(7, 1, true)
	f.store.AddUser(3)
	msg, err := f.store.CreateProjectMessage(ctx, 7, 1, "hi")
	require.NoError(t, err)
	deleted, err := f.store.CreateProjectMessage(ctx, 7, 1, "oops")
	require.NoError(t, err)
	require.NoError(t, f.store.SoftDelete(ctx, models.KindProject, deleted.ID))

	_, err = f.mutator.MarkRead(ctx, 0, models.KindProject, msg.ID)
	assert.True(t, errors.Is(err, errors.Unauthorized))

	_, err = f.mutator.MarkRead(ctx, 3, models.Kind("group"), msg.ID)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.mutator.MarkRead(ctx, 3, models.KindProject, -1)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.mutator.MarkRead(ctx, 3, models.KindProject, 12345)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = f.mutator.MarkRead(ctx, 1, models.KindProject, deleted.ID)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = f.mutator.MarkRead(ctx, 3, models.KindProject, msg.ID)
	assert.True(t, errors.Is(err, errors.Forbidden))
}

func TestBatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mutator.MarkBatchRead(ctx, 1, models.KindSystem, nil)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.mutator.MarkBatchRead(ctx, 1, models.KindSystem, []int64{1, 0})
	assert.True(t, errors.Is(err, errors.NotValid))

	big := make([]int64, MaxBatch+1)
	for i := range big {
		big[i] = int64(i + 1)
	}
	_, err = f.mutator.MarkBatchRead(ctx, 1, models.KindSystem, big)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.mutator.MarkAllRead(ctx, 1, "everything")
	assert.True(t, errors.Is(err, errors.NotValid))
}

type flakyStore struct {
	*repositories.MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) MarkAllRead(ctx context.Context, userID int64, kinds []models.Kind) ([]models.Message, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, repositories.Transient(errors.New("connection reset by peer"))
	}
	return s.MemoryStore.MarkAllRead(ctx, userID, kinds)
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	mem := repositories.NewMemoryStore()
	_, err := mem.CreateSystemMessage(context.Background(), nil, "s", []int64{4})
	require.NoError(t, err)

	store := &flakyStore{MemoryStore: mem, failures: 1}
	m := NewMutator(store, access.NewChecker(mem), nil, nil, clock.WallClock, logger.Nop())
	res, err := m.MarkAllRead(context.Background(), 4, "system")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, 2, store.calls)
}

func TestTransientFailureSurfacesAfterRetry(t *testing.T) {
	mem := repositories.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, failures: 5}
	m := NewMutator(store, access.NewChecker(mem), nil, nil, clock.WallClock, logger.Nop())

	_, err := m.MarkAllRead(context.Background(), 4, "system")
	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrTransient))
	assert.Equal(t, 2, store.calls)
}
