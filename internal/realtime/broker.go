package realtime

import (
	"context"
	"sync"

	"unread-service/internal/models"
)

// Envelope is an event addressed to one conversation. Connections owned by
// ExcludeUserID are skipped.
type Envelope struct {
	Conversation  models.ConversationRef `json:"conversation"`
	ExcludeUserID int64                  `json:"excludeUserId,omitempty"`
	Event         models.Event           `json:"event"`
}

// Broker carries envelopes between service instances. Every subscriber sees
// every envelope and filters locally.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(handler func(Envelope)) error
	Close() error
}

// LocalBroker delivers envelopes in process, synchronously.
type LocalBroker struct {
	mu       sync.RWMutex
	handlers []func(Envelope)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := append([]func(Envelope){}, b.handlers...)
	b.mu.RUnlock()

	for _, handle := range handlers {
		handle(env)
	}
	return nil
}

func (b *LocalBroker) Subscribe(handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
	return nil
}
