package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Delete removes message id on behalf of requester and publishes a
// retraction to everyone who could have received it.
//
// Only the sender or an admin may delete. ErrNotFound and ErrUnauthorized
// leave the log unchanged. A failed publish after the delete returns the
// removed message with an error wrapping ErrDeliveryDegraded.
func (s *Service) Delete(ctx context.Context, id int64, requester models.Requester) (*models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.Int64("chat.message_id", id),
		attribute.String("chat.requester", requester.UserName),
	))
	defer span.End()

	removed, err := s.conversations.DeleteMessage(ctx, id, requester)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, id)
	case errors.Is(err, repository.ErrUnauthorized):
		return nil, fmt.Errorf("%w: %s may not delete message %d", ErrUnauthorized, requester.UserName, id)
	case err != nil:
		span.SetStatus(codes.Error, "delete failed")
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.events.MessageDeleted(ctx, removed, requester.UserName)

	env := &models.Envelope{Type: models.EventRetraction, Retraction: models.RetractionOf(removed)}
	if err := s.publish(ctx, models.SelectorFor(removed).Key(), env); err != nil {
		span.RecordError(err)
		s.logger.Error("message deleted but retraction not published", zap.Int64("message_id", id), zap.Error(err))
		return removed, fmt.Errorf("%w: %w", ErrDeliveryDegraded, err)
	}
	return removed, nil
}

// DeleteOfKind is Delete restricted to messages of one kind. A message of
// another kind is reported as not found.
func (s *Service) DeleteOfKind(ctx context.Context, id int64, kind models.Kind, requester models.Requester) (*models.Message, error) {
	m, err := s.conversations.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if m == nil || m.Kind != kind {
		return nil, fmt.Errorf("%w: %s message %d", ErrNotFound, kind, id)
	}
	return s.Delete(ctx, id, requester)
}
