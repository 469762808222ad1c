package audit

import (
	"context"
	"time"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/observ"
	"go.uber.org/zap"
)

// Routing keys on the exchange.
const (
	KeyMessageCreated = "message.created"
	KeyMessageDeleted = "message.deleted"
	KeyGroupCreated   = "group.created"
)

// Envelope is the body of every domain event.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Instance      string `json:"instance"`
	Actor         string `json:"actor,omitempty"`
	Payload       any    `json:"payload"`
}

// Emitter wraps a Publisher with the envelope and error accounting.
// A nil *Emitter is valid and does nothing.
type Emitter struct {
	publisher Publisher
	instance  string
	logger    *zap.Logger
}

func NewEmitter(publisher Publisher, instance string, logger *zap.Logger) *Emitter {
	return &Emitter{publisher: publisher, instance: instance, logger: observ.Component(logger, "audit")}
}

func (e *Emitter) MessageCreated(ctx context.Context, m *models.Message) {
	e.emit(ctx, KeyMessageCreated, m.Sender, m)
}

func (e *Emitter) MessageDeleted(ctx context.Context, m *models.Message, by string) {
	e.emit(ctx, KeyMessageDeleted, by, models.RetractionOf(m))
}

func (e *Emitter) GroupCreated(ctx context.Context, g *models.Group) {
	e.emit(ctx, KeyGroupCreated, g.CreatedBy, g)
}

func (e *Emitter) emit(ctx context.Context, key, actor string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	env := Envelope{
		SchemaVersion: 1,
		EventType:     key,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       observ.ServiceName,
		Instance:      e.instance,
		Actor:         actor,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, key, env); err != nil {
		observ.IncAMQPPublishError()
		e.logger.Warn("domain event publish failed", zap.String("routing_key", key), zap.Error(err))
	}
}
