package realtime

import (
	"sync"
	"sync/atomic"

	"unread-service/internal/models"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the transport half of a subscription.
type Conn interface {
	WriteEvent(event models.Event) error
	Close() error
}

// Client is one registered connection. Events reach it through a bounded
// queue drained by Hub.Serve.
type Client struct {
	ref       models.ConversationRef
	info      ConnInfo
	transport string
	conn      Conn

	send      chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	mu     sync.Mutex
	reason string
}

func newClient(ref models.ConversationRef, info ConnInfo, transport string, conn Conn, queueSize int) *Client {
	return &Client{
		ref:       ref,
		info:      info,
		transport: transport,
		conn:      conn,
		send:      make(chan models.Event, queueSize),
		done:      make(chan struct{}),
	}
}

func (c *Client) Conversation() models.ConversationRef { return c.ref }
func (c *Client) Info() ConnInfo                       { return c.info }
func (c *Client) State() State                         { return State(c.state.Load()) }

// Done is closed once the connection reaches Closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Reason is why the connection closed, empty while it is open.
func (c *Client) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// enqueue never blocks. It reports false when the client is closed or its
// queue is full.
func (c *Client) enqueue(event models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Client) advance(to State) {
	for {
		cur := c.state.Load()
		if State(cur) >= to {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// close moves the client to Closed. Only the first call has any effect.
func (c *Client) close(reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.conn.Close()
		closed = true
	})
	return closed
}
