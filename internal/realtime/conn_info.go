package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"unread-service/internal/observability"
)

// ConnInfo describes who is on the other end of a connection.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// NewConnInfo fills a ConnInfo from the handshake request.
func NewConnInfo(r *http.Request, userID int64, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}
