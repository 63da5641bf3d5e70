package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
)

// SubscriberOptions tunes reconnection.
type SubscriberOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Clock           clock.Clock
	Logger          *logger.Logger
}

// Subscriber keeps an SSE stream open for one conversation, reconnecting
// with exponential backoff. Events missed while disconnected are not
// replayed; callers re-pull state instead.
type Subscriber struct {
	client *Client
	ref    models.ConversationRef
	opts   SubscriberOptions
	log    *logger.Logger
}

func NewSubscriber(c *Client, ref models.ConversationRef, opts SubscriberOptions) *Subscriber {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Subscriber{client: c, ref: ref, opts: opts, log: opts.Logger.Named("subscriber")}
}

func (s *Subscriber) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run streams events to handle until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, handle func(models.Event)) error {
	b := s.newBackOff()
	for {
		connected, err := s.stream(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.log.Warn("stream disconnected, reconnecting",
			zap.String("conversation", s.ref.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.opts.Clock.After(wait):
		}
	}
}

// stream runs one connection. connected reports whether the server
// acknowledged it.
func (s *Subscriber) stream(ctx context.Context, handle func(models.Event)) (connected bool, err error) {
	path := fmt.Sprintf("%s/stream/%s/%d", s.client.baseURL, s.ref.Kind, s.ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+s.client.token)
	req.Header.Set("Accept", "text/event-stream")

	// streams outlive any request timeout on the REST client
	httpClient := &http.Client{Transport: s.client.http.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var event models.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
			s.log.Debug("skipping malformed event", zap.Error(err))
			continue
		}
		if event.Type == models.EventConnected {
			connected = true
		}
		handle(event)
	}
	if err := scanner.Err(); err != nil {
		return connected, err
	}
	return connected, io.ErrUnexpectedEOF
}
