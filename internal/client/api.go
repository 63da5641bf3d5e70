// Package client talks to the unread service from the consumer side: the
// REST API, the event stream and the global unread status signal.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"unread-service/internal/cache"
	"unread-service/internal/models"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unread api: %d %s", e.StatusCode, e.Message)
}

// Client is a thin REST client. History reads go through an optional
// message cache kept coherent by ApplyEvent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *cache.MessageCache
}

// New creates a client for baseURL authenticating with a bearer token.
func New(baseURL, token string, httpClient *http.Client, messages *cache.MessageCache) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		cache:   messages,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	return errors.Trace(json.NewDecoder(resp.Body).Decode(out))
}

// Unread fetches the current unread snapshot.
func (c *Client) Unread(ctx context.Context) (models.UnreadSnapshot, error) {
	var resp models.UnreadResponse
	if err := c.do(ctx, http.MethodGet, "/notifications/unread", nil, &resp); err != nil {
		return models.UnreadSnapshot{}, err
	}
	return resp.Snapshot(), nil
}

// Recent fetches the newest unread items.
func (c *Client) Recent(ctx context.Context, limit int) ([]models.RecentItem, error) {
	var resp struct {
		Items []models.RecentItem `json:"items"`
	}
	path := "/notifications/recent?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type markResponse struct {
	Success     bool `json:"success"`
	MarkedCount int  `json:"markedCount"`
}

func (c *Client) MarkRead(ctx context.Context, kind models.Kind, messageID int64) (int, error) {
	var resp markResponse
	err := c.do(ctx, http.MethodPost, "/notifications/mark-read", map[string]interface{}{
		"messageId":   messageID,
		"messageType": kind,
	}, &resp)
	return resp.MarkedCount, err
}

func (c *Client) MarkBatchRead(ctx context.Context, kind models.Kind, ids []int64) (int, error) {
	var resp markResponse
	err := c.do(ctx, http.MethodPut, "/notifications/mark-read", map[string]interface{}{
		"messageIds":  ids,
		"messageType": kind,
	}, &resp)
	return resp.MarkedCount, err
}

// MarkAllRead accepts a message kind or "all".
func (c *Client) MarkAllRead(ctx context.Context, kind string) (int, error) {
	var resp markResponse
	err := c.do(ctx, http.MethodPost, "/notifications/mark-all-read", map[string]interface{}{
		"messageType": kind,
	}, &resp)
	return resp.MarkedCount, err
}

// History returns a project or private conversation, served from the cache
// when possible.
func (c *Client) History(ctx context.Context, ref models.ConversationRef) ([]models.Message, error) {
	if c.cache != nil {
		if msgs, ok := c.cache.Get(ref); ok {
			return msgs, nil
		}
	}

	var path string
	switch ref.Kind {
	case models.ConversationProject:
		path = fmt.Sprintf("/projects/%d/messages", ref.ID)
	case models.ConversationPrivate:
		path = fmt.Sprintf("/chats/%d/messages", ref.ID)
	default:
		return nil, errors.NotValidf("history for %s", ref)
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Put(ref, resp.Messages)
	}
	return resp.Messages, nil
}

// ApplyEvent keeps the cache coherent with the stream: new messages are
// upserted, read receipts and deletions invalidate their conversation.
func (c *Client) ApplyEvent(event models.Event) {
	if c.cache == nil {
		return
	}
	switch event.Type {
	case models.EventMessage:
		if event.Message != nil {
			c.cache.UpsertMessage(*event.Message)
		}
	case models.EventRead, models.EventDeleted:
		ref, err := models.ParseConversationKey(event.Conversation)
		if err != nil || ref.Kind == models.ConversationInbox {
			return
		}
		c.cache.Invalidate(ref)
	}
}
