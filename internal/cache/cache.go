// Package cache holds recently seen messages keyed by conversation and by
// message. It is an optimization only; the message store stays the record.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"unread-service/internal/models"
)

const (
	DefaultSize = 512
	DefaultTTL  = 2 * time.Minute
)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
}

// Observer receives cache activity, e.g. to export metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// MessageCache bounds entries by count (least recently used goes first)
// and by age. Both maps are updated under one lock so a message lookup and
// its conversation never disagree.
type MessageCache struct {
	mu            sync.RWMutex
	conversations *expirable.LRU[string, []models.Message]
	messages      *expirable.LRU[string, models.Message]
	observer      Observer

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding up to size conversations and size*8 messages.
func New(size int, ttl time.Duration, observer Observer) *MessageCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &MessageCache{observer: observer}
	c.conversations = expirable.NewLRU[string, []models.Message](size, func(string, []models.Message) { c.evicted() }, ttl)
	c.messages = expirable.NewLRU[string, models.Message](size*8, nil, ttl)
	return c
}

func (c *MessageCache) evicted() {
	c.evictions.Add(1)
	if c.observer != nil {
		c.observer.CacheEviction()
	}
}

func (c *MessageCache) hit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *MessageCache) miss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

// Get returns a copy of the cached messages of a conversation.
func (c *MessageCache) Get(ref models.ConversationRef) ([]models.Message, bool) {
	c.mu.RLock()
	msgs, ok := c.conversations.Get(ref.String())
	out := clone(msgs)
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return nil, false
	}
	c.hit()
	return out, true
}

// GetMessage returns the cached copy of one message.
func (c *MessageCache) GetMessage(kind models.Kind, id int64) (models.Message, bool) {
	c.mu.RLock()
	msg, ok := c.messages.Get(models.MessageKey(kind, id))
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return models.Message{}, false
	}
	c.hit()
	return msg, true
}

// Put replaces a conversation with msgs, ordered by creation time.
func (c *MessageCache) Put(ref models.ConversationRef, msgs []models.Message) {
	stored := clone(msgs)
	sortMessages(stored)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations.Add(ref.String(), stored)
	for _, m := range stored {
		c.messages.Add(m.Key(), m)
	}
}

// UpsertMessage stores m under its own key and merges it into its
// conversation when that conversation is cached. An absent conversation
// stays absent so the next Get misses and loads it whole. Soft-deleted
// messages are dropped from the conversation instead.
func (c *MessageCache) UpsertMessage(m models.Message) {
	ref := m.Conversation()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages.Add(m.Key(), m)
	if ref.IsZero() {
		return
	}

	key := ref.String()
	current, ok := c.conversations.Peek(key)
	if !ok {
		return
	}
	next := make([]models.Message, 0, len(current)+1)
	for _, existing := range current {
		if existing.ID != m.ID {
			next = append(next, existing)
		}
	}
	if !m.IsDeleted {
		next = append(next, m)
	}
	sortMessages(next)
	c.conversations.Add(key, next)
}

// Invalidate drops a conversation and the messages it held.
func (c *MessageCache) Invalidate(ref models.ConversationRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ref.String()
	if msgs, ok := c.conversations.Peek(key); ok {
		for _, m := range msgs {
			c.messages.Remove(m.Key())
		}
	}
	c.conversations.Remove(key)
}

// Stats reports sizes and counters.
func (c *MessageCache) Stats() Stats {
	c.mu.RLock()
	conversations, messages := c.conversations.Len(), c.messages.Len()
	c.mu.RUnlock()
	return Stats{
		Conversations: conversations,
		Messages:      messages,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
	}
}

func clone(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
