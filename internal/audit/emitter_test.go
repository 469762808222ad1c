package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(routingKey, event).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func TestEmitterWrapsPayload(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", KeyMessageDeleted, mock.Anything).Return(nil).Once()

	e := NewEmitter(pub, "node-a", zap.NewNop())
	e.MessageDeleted(context.Background(), &models.Message{ID: 5, Kind: models.KindPublic, Sender: "alice"}, "root")

	pub.AssertExpectations(t)
	env := pub.Calls[0].Arguments.Get(1).(Envelope)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, KeyMessageDeleted, env.EventType)
	assert.Equal(t, "node-a", env.Instance)
	assert.Equal(t, "root", env.Actor)
	require.IsType(t, &models.Retraction{}, env.Payload)
	assert.Equal(t, int64(5), env.Payload.(*models.Retraction).MessageID)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", KeyMessageCreated, mock.Anything).Return(errors.New("channel closed")).Once()

	e := NewEmitter(pub, "node-a", zap.NewNop())
	assert.NotPanics(t, func() {
		e.MessageCreated(context.Background(), &models.Message{ID: 1, Sender: "alice"})
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.GroupCreated(context.Background(), &models.Group{Name: "ops"})
	})
}

func TestEmptyURLGivesNoop(t *testing.T) {
	p := NewPublisher("", "talksphere.events", zap.NewNop())
	assert.Equal(t, "noop", Mode(p))
	assert.NoError(t, p.Publish(context.Background(), KeyGroupCreated, nil))
}
