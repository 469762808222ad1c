package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the scope of a conversation and of every message inside it.
// It never changes after the conversation is created.
type Kind string

const (
	KindPublic  Kind = "public"
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPublic, KindPrivate, KindGroup:
		return true
	}
	return false
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

const DefaultAvatar = "default.png"

// User is an identity record. UserName is the unique handle every other
// entity refers to; the UUID only appears in tokens.
type User struct {
	ID           uuid.UUID `json:"id"`
	UserName     string    `json:"userName"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	Avatar       string    `json:"avatar"`
	Status       Status    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Attachment describes an uploaded blob. The chat core never looks inside it.
type Attachment struct {
	URL          string `json:"url"`
	StorageID    string `json:"storageId"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
}

// Message is one entry in a conversation's log.
//
// ID and CreatedAt are assigned by the store inside the append transaction.
// Within a conversation CreatedAt never decreases and ties keep ID order.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	Kind           Kind        `json:"kind"`
	Sender         string      `json:"by"`
	Recipient      string      `json:"to,omitempty"`
	GroupName      string      `json:"groupName,omitempty"`
	Text           string      `json:"text,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"time"`
}

// Conversation is the container a message log belongs to.
// Participants is sorted for private conversations and holds the
// membership snapshot taken when a group conversation was created.
type Conversation struct {
	ID           int64     `json:"id"`
	Kind         Kind      `json:"kind"`
	Participants []string  `json:"participants"`
	GroupName    string    `json:"groupName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Group owns the authoritative member list used for group routing.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g *Group) HasMember(userName string) bool {
	for _, m := range g.Members {
		if m == userName {
			return true
		}
	}
	return false
}

// Requester is the authenticated caller of a mutating operation.
type Requester struct {
	UserName string
	Role     Role
}

func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// CanBeDeletedBy applies the deletion policy: only the sender or an
// admin may remove a message, whatever the conversation kind.
func (m *Message) CanBeDeletedBy(r Requester) bool {
	return r.IsAdmin() || (r.UserName != "" && r.UserName == m.Sender)
}

// Selector identifies a conversation without knowing its row id.
type Selector struct {
	Kind         Kind
	Participants []string
	GroupName    string
}

func PublicSelector() Selector {
	return Selector{Kind: KindPublic}
}

// PrivateSelector normalizes the pair so {a,b} and {b,a} select the same
// conversation.
func PrivateSelector(a, b string) Selector {
	return Selector{Kind: KindPrivate, Participants: NormalizeParticipants([]string{a, b})}
}

func GroupSelector(name string, members []string) Selector {
	return Selector{Kind: KindGroup, GroupName: name, Participants: NormalizeParticipants(members)}
}

// Key is the conversation key used as the broker partition key.
func (s Selector) Key() string {
	switch s.Kind {
	case KindPrivate:
		return "private:" + strings.Join(s.Participants, ",")
	case KindGroup:
		return "group:" + s.GroupName
	default:
		return "public"
	}
}

func (s Selector) Validate() error {
	switch s.Kind {
	case KindPublic:
		return nil
	case KindPrivate:
		if len(s.Participants) != 2 {
			return fmt.Errorf("private conversation needs exactly two distinct participants, got %d", len(s.Participants))
		}
		return nil
	case KindGroup:
		if s.GroupName == "" {
			return fmt.Errorf("group conversation needs a group name")
		}
		return nil
	}
	return fmt.Errorf("unknown conversation kind %q", s.Kind)
}

// SelectorFor rebuilds the selector of the conversation a message belongs to.
func SelectorFor(m *Message) Selector {
	switch m.Kind {
	case KindPrivate:
		return PrivateSelector(m.Sender, m.Recipient)
	case KindGroup:
		return Selector{Kind: KindGroup, GroupName: m.GroupName}
	default:
		return PublicSelector()
	}
}

// NormalizeParticipants sorts and deduplicates handles, dropping empties.
func NormalizeParticipants(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
