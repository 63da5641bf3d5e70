package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"unread-service/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	ws *websocket.Conn
}

func (w *wsConn) WriteEvent(event models.Event) error {
	_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return w.ws.WriteJSON(event)
}

func (w *wsConn) Close() error {
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.ws.Close()
}

// WebSocket upgrades an authorized subscribe request. Inbound frames are
// read only to notice the peer going away.
func (h *StreamHandler) WebSocket(c *gin.Context) {
	_, span := h.handshake(c, "ws.handshake")
	ref, info, ok := h.authorize(c, span)
	span.End()
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.hub.Register(ref, info, TransportWebSocket, &wsConn{ws: ws})
	ctx, cancel := context.WithCancel(c.Request.Context())
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug("websocket read ended", zap.String("conn_id", info.ConnID), zap.Error(err))
				}
				return
			}
		}
	}()
	h.hub.Serve(ctx, client)
}
