package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
)

// SubjectPrefix roots every delivery subject: unread.events.<kind>.<id>.
const SubjectPrefix = "unread.events"

// NATSBroker fans envelopes out across service instances over core NATS.
type NATSBroker struct {
	conn *nats.Conn
	sub  *nats.Subscription
	log  *logger.Logger
}

// NewNATSBroker connects to url and keeps reconnecting forever.
func NewNATSBroker(url, name string, log *logger.Logger) (*NATSBroker, error) {
	log = log.Named("nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBroker{conn: nc, log: log}, nil
}

// Subject maps a conversation to its NATS subject.
func Subject(ref models.ConversationRef) string {
	return SubjectPrefix + "." + string(ref.Kind) + "." + strconv.FormatInt(ref.ID, 10)
}

func (b *NATSBroker) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.conn.Publish(Subject(env.Conversation), data)
}

func (b *NATSBroker) Subscribe(handler func(Envelope)) error {
	sub, err := b.conn.Subscribe(SubjectPrefix+".>", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.log.Warn("dropping malformed envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectPrefix, err)
	}
	b.sub = sub
	return nil
}

func (b *NATSBroker) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		return b.conn.Drain()
	}
	return nil
}

// IsConnected reports the NATS connection state.
func (b *NATSBroker) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Ping fails while the connection is down or reconnecting.
func (b *NATSBroker) Ping(context.Context) error {
	if !b.IsConnected() {
		return fmt.Errorf("nats broker not connected")
	}
	return nil
}
