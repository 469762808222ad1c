// Package delivery turns broker events into frames on local connections.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalith-99/talksphere/internal/broker"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/observ"
	"github.com/lalith-99/talksphere/internal/presence"
	"github.com/lalith-99/talksphere/internal/repository"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a broker payload that could not be routed.
// Such events are logged and dropped.
var ErrMalformedEvent = errors.New("malformed event")

// GroupMembers is the fresh membership read used for group routing.
type GroupMembers interface {
	Members(ctx context.Context, name string) ([]string, error)
}

// Engine delivers events to the connections registered on this process.
// Connections held by other processes are their engines' business: every
// process consumes every event.
type Engine struct {
	registry *presence.Registry
	groups   GroupMembers
	logger   *zap.Logger
}

func NewEngine(registry *presence.Registry, groups GroupMembers, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		groups:   groups,
		logger:   observ.Component(logger, "delivery"),
	}
}

// Run consumes topic until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, b broker.Broker, topic string) error {
	return b.Subscribe(ctx, topic, e.HandleMessage)
}

// HandleMessage is the broker.Handler. Malformed payloads are dropped
// with a log line; only infrastructure failures are returned.
func (e *Engine) HandleMessage(ctx context.Context, msg broker.Message) error {
	env, err := models.ParseEnvelope(msg.Value)
	if err != nil {
		observ.IncDroppedEvent()
		e.logger.Warn("dropping malformed event",
			zap.String("key", msg.Key),
			zap.Int("bytes", len(msg.Value)),
			zap.Error(err),
		)
		return nil
	}
	_, err = e.Deliver(ctx, env)
	if errors.Is(err, ErrMalformedEvent) {
		observ.IncDroppedEvent()
		e.logger.Warn("dropping unroutable event", zap.String("key", msg.Key), zap.Error(err))
		return nil
	}
	return err
}

// Deliver emits env to its local recipients and returns how many frames
// were handed to connections.
func (e *Engine) Deliver(ctx context.Context, env *models.Envelope) (int, error) {
	var (
		frame   string
		payload any
		rt      route
	)
	switch env.Type {
	case models.EventMessage:
		m := env.Message
		frame = models.FrameMessageReceived
		payload = models.NewMessageReceived(m, env.ClientTempID)
		rt = routeOf(m.Kind, m.Sender, m.Recipient, m.GroupName)
	case models.EventRetraction:
		r := env.Retraction
		frame = models.FrameMessageRetracted
		payload = models.MessageRetracted{MessageID: r.MessageID}
		rt = routeOf(r.Kind, r.Sender, r.Recipient, r.GroupName)
	default:
		return 0, fmt.Errorf("%w: type %q", ErrMalformedEvent, env.Type)
	}

	targets, err := e.resolve(ctx, rt)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range targets {
		if env.OriginConnID != "" && c.ID() == env.OriginConnID {
			continue
		}
		if e.emit(c, frame, payload) {
			sent++
		}
	}
	return sent, nil
}

type route struct {
	kind      models.Kind
	users     []string
	groupName string
}

func routeOf(kind models.Kind, sender, recipient, groupName string) route {
	switch kind {
	case models.KindPrivate:
		return route{kind: kind, users: []string{sender, recipient}}
	case models.KindGroup:
		return route{kind: kind, groupName: groupName}
	default:
		return route{kind: kind}
	}
}

func (e *Engine) resolve(ctx context.Context, r route) ([]presence.Conn, error) {
	switch r.kind {
	case models.KindPublic:
		return e.registry.All(), nil
	case models.KindPrivate:
		return flatten(e.registry.ResolveMany(r.users)), nil
	case models.KindGroup:
		members, err := e.groups.Members(ctx, r.groupName)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: group %q does not exist", ErrMalformedEvent, r.groupName)
		}
		if err != nil {
			return nil, fmt.Errorf("read members of %q: %w", r.groupName, err)
		}
		return flatten(e.registry.ResolveMany(members)), nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrMalformedEvent, r.kind)
}

// emit is best-effort. A connection that closed since it was resolved is
// not an error.
func (e *Engine) emit(c presence.Conn, frame string, payload any) bool {
	err := c.Send(frame, payload)
	switch {
	case err == nil:
		observ.IncDelivery(frame)
		return true
	case errors.Is(err, presence.ErrConnClosed):
		e.logger.Debug("connection closed before delivery", zap.String("conn_id", c.ID()))
	default:
		e.logger.Warn("send failed", zap.String("conn_id", c.ID()), zap.String("event", frame), zap.Error(err))
	}
	return false
}

// flatten merges per-user connection lists, keeping each connection once.
func flatten(byUser map[string][]presence.Conn) []presence.Conn {
	seen := make(map[string]struct{})
	var out []presence.Conn
	for _, conns := range byUser {
		for _, c := range conns {
			if _, ok := seen[c.ID()]; ok {
				continue
			}
			seen[c.ID()] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
