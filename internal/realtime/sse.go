package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"unread-service/internal/models"
)

var errConnClosed = errors.New("connection closed")

type sseConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	closed  atomic.Bool
}

func (s *sseConn) WriteEvent(event models.Event) error {
	if s.closed.Load() {
		return errConnClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseConn) Close() error {
	s.closed.Store(true)
	return nil
}

// SSE streams conversation events as text/event-stream until the client
// goes away.
func (h *StreamHandler) SSE(c *gin.Context) {
	_, span := h.handshake(c, "sse.handshake")
	ref, info, ok := h.authorize(c, span)
	span.End()
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	client := h.hub.Register(ref, info, TransportSSE, &sseConn{w: c.Writer, flusher: flusher})
	h.hub.Serve(c.Request.Context(), client)
}
