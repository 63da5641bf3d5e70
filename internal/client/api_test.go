package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unread-service/internal/cache"
	"unread-service/internal/models"
)

func TestClientUnreadAndMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing token"})
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/notifications/unread":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"total":     3,
				"breakdown": map[string]int{"system": 1, "project": 0, "private": 2},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/notifications/mark-read":
			var body struct {
				MessageID   int64  `json:"messageId"`
				MessageType string `json:"messageType"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, int64(9), body.MessageID)
			assert.Equal(t, "private", body.MessageType)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "markedCount": 1})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil, nil)
	snap, err := c.Unread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.UnreadSnapshot{System: 1, Private: 2, Total: 3}, snap)

	n, err := c.MarkRead(context.Background(), models.KindPrivate, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = New(srv.URL, "bad", nil, nil).Unread(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "missing token", apiErr.Message)
}

func TestClientHistoryIsCachedUntilInvalidated(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/projects/3/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []models.Message{{ID: 1, Kind: models.KindProject, ConversationID: 3, CreatedAt: time.Now()}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil, cache.New(8, time.Minute, nil))
	ref := models.ProjectConversation(3)

	msgs, err := c.History(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	_, err = c.History(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	newer := models.Message{ID: 2, Kind: models.KindProject, ConversationID: 3, CreatedAt: time.Now().Add(time.Second)}
	c.ApplyEvent(models.NewMessageEvent(ref, newer))
	msgs, err = c.History(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, int32(1), hits.Load())

	c.ApplyEvent(models.NewReadEvent(ref, models.KindProject, 5, []int64{1}))
	_, err = c.History(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.History(context.Background(), models.InboxConversation(5))
	assert.Error(t, err)
}

func TestClientHistoryLoadsWholeConversationAfterColdMessageEvent(t *testing.T) {
	var hits atomic.Int32
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/chats/7/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []models.Message{
				{ID: 1, Kind: models.KindPrivate, ConversationID: 7, CreatedAt: now},
				{ID: 2, Kind: models.KindPrivate, ConversationID: 7, CreatedAt: now.Add(time.Second)},
				{ID: 3, Kind: models.KindPrivate, ConversationID: 7, CreatedAt: now.Add(2 * time.Second)},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil, cache.New(8, time.Minute, nil))
	ref := models.PrivateConversation(7)

	latest := models.Message{ID: 3, Kind: models.KindPrivate, ConversationID: 7, CreatedAt: now.Add(2 * time.Second)}
	c.ApplyEvent(models.NewMessageEvent(ref, latest))

	msgs, err := c.History(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	assert.Equal(t, int32(1), hits.Load())
}
