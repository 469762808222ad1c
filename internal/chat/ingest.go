package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lalith-99/talksphere/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SendInput is a message as submitted by a client.
type SendInput struct {
	Sender      string
	SenderName  string
	SenderEmail string

	Kind       models.Kind
	Recipient  string
	GroupName  string
	Text       string
	Attachment *models.Attachment

	ClientTempID string

	// OriginConnID is the connection that already got its echo, if any.
	OriginConnID string
}

// Send validates, persists and publishes one message.
//
// If the message is stored but publishing fails, Send returns the stored
// message together with an error wrapping ErrDeliveryDegraded.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.kind", string(in.Kind)),
		attribute.String("chat.sender", in.Sender),
	))
	defer span.End()

	sel, err := s.validate(ctx, &in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.users.UpsertProfile(ctx, in.Sender, in.SenderName, in.SenderEmail); err != nil {
		s.logger.Warn("sender profile upsert failed", zap.String("user", in.Sender), zap.Error(err))
	}

	msg, err := s.conversations.AppendMessage(ctx, sel, models.Message{
		Kind:       in.Kind,
		Sender:     in.Sender,
		Recipient:  in.Recipient,
		GroupName:  in.GroupName,
		Text:       in.Text,
		Attachment: in.Attachment,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, fmt.Errorf("append message: %w", err)
	}
	span.SetAttributes(attribute.Int64("chat.message_id", msg.ID))

	s.events.MessageCreated(ctx, msg)

	env := &models.Envelope{
		Type:         models.EventMessage,
		Message:      msg,
		ClientTempID: in.ClientTempID,
		OriginConnID: in.OriginConnID,
	}
	if err := s.publish(ctx, sel.Key(), env); err != nil {
		span.RecordError(err)
		s.logger.Error("message stored but not published",
			zap.Int64("message_id", msg.ID),
			zap.String("conversation", sel.Key()),
			zap.Error(err),
		)
		return msg, fmt.Errorf("%w: %w", ErrDeliveryDegraded, err)
	}
	return msg, nil
}

// validate normalizes in and returns the selector of its conversation.
func (s *Service) validate(ctx context.Context, in *SendInput) (models.Selector, error) {
	in.Sender = strings.TrimSpace(in.Sender)
	in.Recipient = strings.TrimSpace(in.Recipient)
	in.GroupName = strings.TrimSpace(in.GroupName)

	if in.Sender == "" {
		return models.Selector{}, invalid("sender is required")
	}
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return models.Selector{}, invalid("text or attachment is required")
	}
	if in.Attachment != nil && in.Attachment.URL == "" {
		return models.Selector{}, invalid("attachment url is required")
	}

	switch in.Kind {
	case models.KindPublic:
		in.Recipient, in.GroupName = "", ""
		return models.PublicSelector(), nil

	case models.KindPrivate:
		if in.Recipient == "" {
			return models.Selector{}, invalid("private message needs a recipient")
		}
		if in.Recipient == in.Sender {
			return models.Selector{}, invalid("private message recipient must differ from sender")
		}
		in.GroupName = ""
		return models.PrivateSelector(in.Sender, in.Recipient), nil

	case models.KindGroup:
		if in.GroupName == "" {
			return models.Selector{}, invalid("group message needs a group name")
		}
		g, err := s.groups.Get(ctx, in.GroupName)
		if err != nil {
			return models.Selector{}, fmt.Errorf("get group: %w", err)
		}
		if g == nil {
			return models.Selector{}, fmt.Errorf("%w: group %q", ErrNotFound, in.GroupName)
		}
		if !g.HasMember(in.Sender) {
			return models.Selector{}, fmt.Errorf("%w: %s is not a member of %q", ErrUnauthorized, in.Sender, in.GroupName)
		}
		in.Recipient = ""
		return models.GroupSelector(g.Name, g.Members), nil
	}
	return models.Selector{}, invalid(fmt.Sprintf("unknown kind %q", in.Kind))
}

func invalid(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, detail)
}

// IsDegraded reports whether err means "stored, not delivered live".
func IsDegraded(err error) bool {
	return errors.Is(err, ErrDeliveryDegraded)
}
