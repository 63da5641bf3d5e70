package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unread-service/internal/models"
)

type countingObserver struct {
	hits, misses, evictions atomic.Int64
}

func (o *countingObserver) CacheHit()      { o.hits.Add(1) }
func (o *countingObserver) CacheMiss()     { o.misses.Add(1) }
func (o *countingObserver) CacheEviction() { o.evictions.Add(1) }

func projectMsg(id, project int64, at time.Time) models.Message {
	sender := int64(1)
	return models.Message{ID: id, Kind: models.KindProject, SenderID: &sender, ConversationID: project, Content: "m", CreatedAt: at}
}

func TestPutGetOrdersAndCopies(t *testing.T) {
	c := New(8, time.Minute, nil)
	ref := models.ProjectConversation(1)
	base := time.Now()
	c.Put(ref, []models.Message{projectMsg(2, 1, base.Add(time.Second)), projectMsg(1, 1, base), projectMsg(3, 1, base.Add(time.Second))})

	got, ok := c.Get(ref)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})

	got[0].Content = "mutated"
	again, _ := c.Get(ref)
	assert.Equal(t, "m", again[0].Content)

	msg, ok := c.GetMessage(models.KindProject, 2)
	require.True(t, ok)
	assert.Equal(t, int64(2), msg.ID)
}

func TestUpsertIntoColdConversationOnlyStoresMessage(t *testing.T) {
	c := New(8, time.Minute, nil)
	ref := models.ProjectConversation(4)

	c.UpsertMessage(projectMsg(10, 4, time.Now()))

	_, ok := c.Get(ref)
	assert.False(t, ok)
	_, ok = c.GetMessage(models.KindProject, 10)
	assert.True(t, ok)
	assert.Equal(t, 0, c.Stats().Conversations)
}

func TestUpsertAppendsReplacesAndRemoves(t *testing.T) {
	c := New(8, time.Minute, nil)
	ref := models.ProjectConversation(4)
	now := time.Now()
	c.Put(ref, []models.Message{})

	c.UpsertMessage(projectMsg(10, 4, now))
	got, ok := c.Get(ref)
	require.True(t, ok)
	require.Len(t, got, 1)

	edited := projectMsg(10, 4, now)
	edited.Content = "edited"
	c.UpsertMessage(edited)
	c.UpsertMessage(projectMsg(11, 4, now.Add(time.Millisecond)))
	got, _ = c.Get(ref)
	require.Len(t, got, 2)
	assert.Equal(t, "edited", got[0].Content)

	deleted := projectMsg(10, 4, now)
	deleted.IsDeleted = true
	c.UpsertMessage(deleted)
	got, _ = c.Get(ref)
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].ID)
}

func TestUpsertSystemMessageHasNoConversation(t *testing.T) {
	c := New(8, time.Minute, nil)
	c.UpsertMessage(models.Message{ID: 1, Kind: models.KindSystem, Content: "s"})

	_, ok := c.GetMessage(models.KindSystem, 1)
	assert.True(t, ok)
	assert.Equal(t, 0, c.Stats().Conversations)
}

func TestInvalidateDropsConversationAndMessages(t *testing.T) {
	c := New(8, time.Minute, nil)
	ref := models.PrivateConversation(3)
	receiver := int64(2)
	m := models.Message{ID: 5, Kind: models.KindPrivate, ReceiverID: &receiver, ConversationID: 3, CreatedAt: time.Now()}
	c.Put(ref, []models.Message{m})

	c.Invalidate(ref)
	c.Invalidate(ref)

	_, ok := c.Get(ref)
	assert.False(t, ok)
	_, ok = c.GetMessage(models.KindPrivate, 5)
	assert.False(t, ok)
}

func TestLeastRecentlyUsedConversationEvicted(t *testing.T) {
	obs := &countingObserver{}
	c := New(2, time.Minute, obs)
	now := time.Now()
	c.Put(models.ProjectConversation(1), []models.Message{projectMsg(1, 1, now)})
	c.Put(models.ProjectConversation(2), []models.Message{projectMsg(2, 2, now)})
	_, _ = c.Get(models.ProjectConversation(1))
	c.Put(models.ProjectConversation(3), []models.Message{projectMsg(3, 3, now)})

	_, ok := c.Get(models.ProjectConversation(2))
	assert.False(t, ok)
	_, ok = c.Get(models.ProjectConversation(1))
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, int64(1), obs.evictions.Load())
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestEntriesExpire(t *testing.T) {
	c := New(8, 20*time.Millisecond, nil)
	ref := models.ProjectConversation(1)
	c.Put(ref, []models.Message{projectMsg(1, 1, time.Now())})

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ref)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentUpsertsKeepBothViewsConsistent(t *testing.T) {
	c := New(64, time.Minute, nil)
	ref := models.ProjectConversation(9)
	now := time.Now()
	c.Put(ref, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c.UpsertMessage(projectMsg(id, 9, now.Add(time.Duration(id)*time.Millisecond)))
		}(int64(i))
	}
	wg.Wait()

	got, ok := c.Get(ref)
	require.True(t, ok)
	assert.Len(t, got, 50)
	for _, m := range got {
		_, ok := c.GetMessage(models.KindProject, m.ID)
		assert.True(t, ok)
	}
}
