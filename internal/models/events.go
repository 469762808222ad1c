package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags the payload carried by a broker Envelope.
type EventType string

const (
	EventMessage    EventType = "message"
	EventRetraction EventType = "retraction"
)

// Envelope is what travels on the fanout topic. Exactly one of Message or
// Retraction is set, matching Type.
type Envelope struct {
	Type       EventType   `json:"type"`
	Message    *Message    `json:"message,omitempty"`
	Retraction *Retraction `json:"retraction,omitempty"`

	// ClientTempID is the sender's provisional id, passed through so the
	// sender's other devices can reconcile their optimistic copy.
	ClientTempID string `json:"clientTempId,omitempty"`

	// OriginConnID is set when the ingesting connection already received
	// its own echo; delivery skips that one connection.
	OriginConnID string `json:"originConnId,omitempty"`

	PublishedAt time.Time `json:"publishedAt"`
}

// Retraction carries enough routing data to reach the same recipients as
// the removed message.
type Retraction struct {
	MessageID int64  `json:"messageId"`
	Kind      Kind   `json:"kind"`
	Sender    string `json:"by"`
	Recipient string `json:"to,omitempty"`
	GroupName string `json:"groupName,omitempty"`
}

func RetractionOf(m *Message) *Retraction {
	return &Retraction{
		MessageID: m.ID,
		Kind:      m.Kind,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		GroupName: m.GroupName,
	}
}

var errEnvelope = errors.New("malformed envelope")

// Validate checks the fields the delivery engine routes on.
func (e *Envelope) Validate() error {
	switch e.Type {
	case EventMessage:
		m := e.Message
		if m == nil || m.ID == 0 || m.Sender == "" || !m.Kind.Valid() {
			return errEnvelope
		}
		if m.Kind == KindPrivate && m.Recipient == "" {
			return errEnvelope
		}
		if m.Kind == KindGroup && m.GroupName == "" {
			return errEnvelope
		}
	case EventRetraction:
		r := e.Retraction
		if r == nil || r.MessageID == 0 || !r.Kind.Valid() {
			return errEnvelope
		}
		if r.Kind == KindPrivate && (r.Sender == "" || r.Recipient == "") {
			return errEnvelope
		}
		if r.Kind == KindGroup && r.GroupName == "" {
			return errEnvelope
		}
	default:
		return errEnvelope
	}
	return nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes and validates a broker payload.
func ParseEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("validate %q envelope: %w", e.Type, err)
	}
	return &e, nil
}

// Outbound frame names.
const (
	FrameMessageReceived  = "message-received"
	FrameMessageRetracted = "message-retracted"
	FrameIdentified       = "identified"
	FrameDeliveryError    = "delivery-error"
	FrameError            = "error"
)

// Inbound frame names.
const (
	FrameIdentify    = "identify"
	FrameChatMessage = "chat-message"
)

// MessageReceived is the outbound payload for a delivered message.
type MessageReceived struct {
	*Message
	ServerID        int64     `json:"serverId"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
	ClientTempID    string    `json:"clientTempId,omitempty"`
}

func NewMessageReceived(m *Message, clientTempID string) MessageReceived {
	return MessageReceived{
		Message:         m,
		ServerID:        m.ID,
		ServerTimestamp: m.CreatedAt,
		ClientTempID:    clientTempID,
	}
}

type MessageRetracted struct {
	MessageID int64 `json:"messageId"`
}
