// Package chat is the write side of messaging: it validates, persists and
// publishes messages and retractions, and guards history reads.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/lalith-99/talksphere/internal/audit"
	"github.com/lalith-99/talksphere/internal/broker"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/observ"
	"github.com/lalith-99/talksphere/internal/repository"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Service struct {
	conversations repository.ConversationRepository
	users         repository.UserRepository
	groups        repository.GroupRepository
	broker        broker.Broker
	topic         string
	events        *audit.Emitter
	logger        *zap.Logger
	tracer        trace.Tracer
}

// Deps are the collaborators of a Service. Events may be nil.
type Deps struct {
	Conversations repository.ConversationRepository
	Users         repository.UserRepository
	Groups        repository.GroupRepository
	Broker        broker.Broker
	Topic         string
	Events        *audit.Emitter
	Logger        *zap.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		conversations: d.Conversations,
		users:         d.Users,
		groups:        d.Groups,
		broker:        d.Broker,
		topic:         d.Topic,
		events:        d.Events,
		logger:        observ.Component(d.Logger, "chat"),
		tracer:        observ.Tracer("chat"),
	}
}

// publish sends env keyed by conversation so one conversation stays on one
// partition.
func (s *Service) publish(ctx context.Context, key string, env *models.Envelope) error {
	env.PublishedAt = time.Now().UTC()
	b, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.broker.Publish(ctx, s.topic, key, b); err != nil {
		observ.IncBrokerPublishError(s.broker.Name())
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}
