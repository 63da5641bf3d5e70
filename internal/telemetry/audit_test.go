package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"unread-service/internal/logger"
	"unread-service/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	userID := int64(42)
	publisher.On("Publish", mock.Anything, "audit.log", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.Service == "unread-service" &&
			env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == userID &&
			env.Payload.Text == "system message 5 sent to all users"
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter := NewAuditEmitter(publisher, "audit.log", "unread-service", "test", logger.Nop())
	emitter.Emit(context.Background(), "INFO", "system message 5 sent to all users", "req-1", &userID)

	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.log", mock.Anything, map[string]string{}).Return(errors.New("channel closed"))

	emitter := NewAuditEmitter(publisher, "audit.log", "unread-service", "test", logger.Nop())
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", "message deleted", "", nil)
	})
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "ignored", "", nil)
	})
}
