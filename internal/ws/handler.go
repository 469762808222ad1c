// Package ws is the websocket transport: handshake, identify, inbound chat
// messages and the per-connection pumps.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/observ"
	"github.com/lalith-99/talksphere/internal/presence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const eventError = models.FrameError

// Error codes carried in error frames.
const (
	codeBadRequest   = "bad_request"
	codeInvalid      = "invalid_message"
	codeNotFound     = "not_found"
	codeForbidden    = "forbidden"
	codeNotIdent     = "not_identified"
	codeRateLimited  = "rate_limited"
	codeInternal     = "internal"
	codeUnknownEvent = "unknown_event"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type identifyPayload struct {
	UserHandle string `json:"userHandle"`
}

type chatMessagePayload struct {
	Sender       string             `json:"sender"`
	Kind         models.Kind        `json:"kind"`
	Recipient    string             `json:"recipient,omitempty"`
	GroupName    string             `json:"groupName,omitempty"`
	Text         string             `json:"text,omitempty"`
	Attachment   *models.Attachment `json:"attachment,omitempty"`
	ClientTempID string             `json:"clientTempId,omitempty"`
}

type deliveryErrorPayload struct {
	ServerID     int64  `json:"serverId"`
	ClientTempID string `json:"clientTempId,omitempty"`
	Message      string `json:"message"`
}

// MessageSender is the ingestion path.
type MessageSender interface {
	Send(ctx context.Context, in chat.SendInput) (*models.Message, error)
}

// StatusStore persists online/offline status.
type StatusStore interface {
	SetStatus(ctx context.Context, userName string, status models.Status) error
}

type Options struct {
	MessagesPerSecond float64
	Burst             int
}

type Handler struct {
	verifier *auth.Verifier
	registry *presence.Registry
	sender   MessageSender
	status   StatusStore
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

func NewHandler(verifier *auth.Verifier, registry *presence.Registry, sender MessageSender, status StatusStore, opts Options, logger *zap.Logger) *Handler {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	return &Handler{
		verifier: verifier,
		registry: registry,
		sender:   sender,
		status:   status,
		opts:     opts,
		logger:   observ.Component(logger, "ws"),
		tracer:   observ.Tracer("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the handshake, upgrades and starts the pumps.
// The token comes from ?token= or the Authorization header.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	credential := c.Query("token")
	if credential == "" {
		credential = c.GetHeader("Authorization")
	}
	identity, err := h.verifier.Verify(credential)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.String("chat.user", identity.UserName))

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request.WithContext(ctx), nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), wsConn, identity, rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst), h.logger)
	h.registry.Track(conn)
	observ.SetWSActive(h.registry.Len())
	conn.logger.Debug("connected")

	go conn.writePump()
	go func() {
		defer h.disconnect(conn)
		conn.readPump(func(f inboundFrame) { h.dispatch(conn, f) })
	}()
}

func (h *Handler) dispatch(conn *Conn, f inboundFrame) {
	observ.IncWSEvent(f.Event)
	switch f.Event {
	case models.FrameIdentify:
		h.identify(conn, f.Data)
	case models.FrameChatMessage:
		h.chatMessage(conn, f.Data)
	default:
		_ = conn.Send(eventError, errorPayload{Code: codeUnknownEvent, Message: "unknown event " + f.Event})
	}
}

func (h *Handler) identify(conn *Conn, data json.RawMessage) {
	var p identifyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserHandle == "" {
		_ = conn.Send(eventError, errorPayload{Code: codeBadRequest, Message: "identify needs userHandle"})
		return
	}
	if p.UserHandle != conn.identity.UserName {
		_ = conn.Send(eventError, errorPayload{Code: codeForbidden, Message: "userHandle does not match token"})
		return
	}

	// Only the first local connection of a user writes the status.
	wasOnline := h.registry.Online(p.UserHandle)
	h.registry.Register(p.UserHandle, conn)
	conn.setIdentified(p.UserHandle)
	if !wasOnline {
		h.setStatus(p.UserHandle, models.StatusOnline)
	}
	_ = conn.Send(models.FrameIdentified, identifyPayload{UserHandle: p.UserHandle})
}

func (h *Handler) chatMessage(conn *Conn, data json.RawMessage) {
	user := conn.identified()
	if user == "" {
		_ = conn.Send(eventError, errorPayload{Code: codeNotIdent, Message: "identify first"})
		return
	}
	if !conn.limiter.Allow() {
		_ = conn.Send(eventError, errorPayload{Code: codeRateLimited, Message: "slow down"})
		return
	}

	var p chatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		_ = conn.Send(eventError, errorPayload{Code: codeBadRequest, Message: "malformed chat-message"})
		return
	}
	if p.Sender != user {
		_ = conn.Send(eventError, errorPayload{Code: codeForbidden, Message: "sender does not match identified user"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := h.sender.Send(ctx, chat.SendInput{
		Sender:       user,
		SenderEmail:  conn.identity.Email,
		Kind:         p.Kind,
		Recipient:    p.Recipient,
		GroupName:    p.GroupName,
		Text:         p.Text,
		Attachment:   p.Attachment,
		ClientTempID: p.ClientTempID,
		OriginConnID: conn.ID(),
	})
	if msg != nil {
		// The sender's own connection gets its echo here, not from the
		// delivery engine.
		_ = conn.Send(models.FrameMessageReceived, models.NewMessageReceived(msg, p.ClientTempID))
	}
	switch {
	case err == nil:
	case chat.IsDegraded(err):
		_ = conn.Send(models.FrameDeliveryError, deliveryErrorPayload{
			ServerID:     msg.ID,
			ClientTempID: p.ClientTempID,
			Message:      "saved but not delivered live",
		})
	default:
		code, text := errorCode(err)
		if code == codeInternal {
			conn.logger.Error("chat message failed", zap.Error(err))
		}
		_ = conn.Send(eventError, errorPayload{Code: code, Message: text})
	}
}

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		return codeInvalid, err.Error()
	case errors.Is(err, chat.ErrNotFound):
		return codeNotFound, err.Error()
	case errors.Is(err, chat.ErrUnauthorized):
		return codeForbidden, err.Error()
	}
	return codeInternal, "message could not be saved"
}

// disconnect runs once per connection after readPump returns.
func (h *Handler) disconnect(conn *Conn) {
	for _, user := range h.registry.Unregister(conn) {
		h.setStatus(user, models.StatusOffline)
	}
	conn.close()
	observ.SetWSActive(h.registry.Len())
	conn.logger.Debug("disconnected")
}

func (h *Handler) setStatus(user string, status models.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.status.SetStatus(ctx, user, status); err != nil {
		h.logger.Warn("set status failed", zap.String("user", user), zap.String("status", string(status)), zap.Error(err))
	}
}
