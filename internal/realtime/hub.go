package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
	"unread-service/internal/observability"
)

const (
	DefaultHeartbeat = 25 * time.Second
	// DefaultQueueSize bounds the events waiting for one slow connection.
	DefaultQueueSize = 16
)

// Invalidator drops cached conversation history.
type Invalidator interface {
	Invalidate(ref models.ConversationRef)
}

// Hub maintains the registry of live connections per conversation.
type Hub struct {
	rooms map[models.ConversationRef]map[string]*Client
	mu    sync.RWMutex

	broker    Broker
	heartbeat time.Duration
	queueSize int
	log       *logger.Logger
	startOnce sync.Once

	invalidator Invalidator
}

// NewHub creates an empty hub. A nil broker keeps delivery in process.
func NewHub(broker Broker, heartbeat time.Duration, log *logger.Logger) *Hub {
	if broker == nil {
		broker = NewLocalBroker()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		rooms:     make(map[models.ConversationRef]map[string]*Client),
		broker:    broker,
		heartbeat: heartbeat,
		queueSize: DefaultQueueSize,
		log:       log.Named("hub"),
	}
}

// InvalidateOn makes every delivered message, read or deleted envelope drop
// its conversation from inv. Call it before Start.
func (h *Hub) InvalidateOn(inv Invalidator) {
	h.invalidator = inv
}

// Start subscribes the hub to its broker. Calling it again is a no-op.
func (h *Hub) Start(ctx context.Context) error {
	var err error
	h.startOnce.Do(func() {
		err = h.broker.Subscribe(func(env Envelope) {
			h.Deliver(env)
		})
	})
	return err
}

// Register adds a connection that passed authorization. The returned client
// is Connecting until Serve acknowledges it.
func (h *Hub) Register(ref models.ConversationRef, info ConnInfo, transport string, conn Conn) *Client {
	c := newClient(ref, info, transport, conn, h.queueSize)

	h.mu.Lock()
	if _, ok := h.rooms[ref]; !ok {
		h.rooms[ref] = make(map[string]*Client)
	}
	h.rooms[ref][info.ConnID] = c
	h.mu.Unlock()

	observability.IncStreamActive(transport)
	observability.IncStreamEvent(transport, "connect")
	h.publishStreamEvent(c, "connect", "")
	return c
}

// remove closes c and drops its registry entry. Duplicate calls are no-ops.
func (h *Hub) remove(c *Client, reason string) {
	c.close(reason)

	h.mu.Lock()
	conns, ok := h.rooms[c.ref]
	registered := ok && conns[c.info.ConnID] == c
	if registered {
		delete(conns, c.info.ConnID)
		if len(conns) == 0 {
			delete(h.rooms, c.ref)
		}
	}
	h.mu.Unlock()

	if !registered {
		return
	}
	observability.DecStreamActive(c.transport)
	observability.IncStreamEvent(c.transport, "disconnect")
	h.publishStreamEvent(c, "disconnect", c.Reason())
}

// Close deregisters c, e.g. when the client cancels.
func (h *Hub) Close(c *Client, reason string) {
	h.remove(c, reason)
}

// Publish hands an event for ref to the broker. Failures are logged, never
// returned: delivery is a hint and the store stays authoritative.
func (h *Hub) Publish(ctx context.Context, ref models.ConversationRef, event models.Event, excludeUserID int64) {
	env := Envelope{Conversation: ref, ExcludeUserID: excludeUserID, Event: event}
	if err := h.broker.Publish(ctx, env); err != nil {
		h.log.Warn("broker publish failed", zap.String("conversation", ref.String()), zap.Error(err))
	}
}

// Deliver fans env out to local connections without blocking. A connection
// whose queue is full is closed; the rest still receive the event. It
// returns the number of connections the event was queued for.
func (h *Hub) Deliver(env Envelope) int {
	h.invalidate(env)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[env.Conversation]))
	for _, c := range h.rooms[env.Conversation] {
		if env.ExcludeUserID != 0 && c.info.UserID == env.ExcludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(env.Event) {
			delivered++
			observability.IncBroadcast("delivered")
			continue
		}
		observability.IncBroadcast("dropped")
		h.log.Warn("dropping slow connection",
			zap.String("conversation", env.Conversation.String()),
			zap.String("conn_id", c.info.ConnID),
			zap.Int64("user_id", c.info.UserID),
		)
		h.remove(c, "send queue full")
	}
	return delivered
}

func (h *Hub) invalidate(env Envelope) {
	if h.invalidator == nil || env.Conversation.IsZero() || env.Conversation.Kind == models.ConversationInbox {
		return
	}
	switch env.Event.Type {
	case models.EventMessage, models.EventRead, models.EventDeleted:
		h.invalidator.Invalidate(env.Conversation)
	}
}

// Serve drives c until it closes: it acknowledges the connection, then
// writes queued events and heartbeats. A write failure closes c. Serve
// returns when ctx is cancelled or c is closed elsewhere.
func (h *Hub) Serve(ctx context.Context, c *Client) {
	defer h.remove(c, "client cancelled")

	if err := c.conn.WriteEvent(models.Event{Type: models.EventConnected, Conversation: c.ref.String(), UserID: c.info.UserID, Timestamp: time.Now().UTC()}); err != nil {
		h.writeFailed(c, err)
		return
	}
	c.advance(StateOpen)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteEvent(models.Event{Type: models.EventHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				h.writeFailed(c, err)
				return
			}
			c.advance(StateActive)
		case event := <-c.send:
			if err := c.conn.WriteEvent(event); err != nil {
				h.writeFailed(c, err)
				return
			}
		}
	}
}

func (h *Hub) writeFailed(c *Client, err error) {
	h.log.Warn("stream write failed",
		zap.String("conversation", c.ref.String()),
		zap.String("conn_id", c.info.ConnID),
		zap.Error(err),
	)
	observability.IncStreamEvent(c.transport, "error")
	h.publishStreamEvent(c, "error", err.Error())
	h.remove(c, "write failed: "+err.Error())
}

// Count returns the live connections on ref.
func (h *Hub) Count(ref models.ConversationRef) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ref])
}

// Shutdown closes every connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Client
	for _, conns := range h.rooms {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c, "server shutdown")
	}
	if err := h.broker.Close(); err != nil {
		h.log.Warn("broker close failed", zap.Error(err))
	}
}

func (h *Hub) publishStreamEvent(c *Client, event, reason string) {
	payload := map[string]interface{}{
		"stream": map[string]interface{}{
			"transport":    c.transport,
			"conversation": c.ref.String(),
			"event":        event,
			"conn_id":      c.info.ConnID,
			"duration_ms":  time.Since(c.info.ConnectedAt).Milliseconds(),
			"reason":       reason,
		},
		"identity": map[string]interface{}{
			"user_id":   c.info.UserID,
			"device_id": c.info.DeviceID,
			"ip":        c.info.IP,
		},
	}
	headers := observability.BuildHeaders(c.info.RequestID, c.info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.RoutingStreamEvents+"."+string(c.ref.Kind),
		observability.NewEnvelope("stream_events", "stream_"+event, payload), headers)
}
