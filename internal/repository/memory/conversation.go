// Package memory holds in-process repositories with the same semantics as
// the Postgres ones. They back STORE_DRIVER=memory and multi-component tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

type conversation struct {
	models.Conversation
	last     time.Time
	messages []models.Message
}

type ConversationStore struct {
	mu            sync.Mutex
	nextConvID    int64
	nextMessageID int64
	byKey         map[string]*conversation
	byMessage     map[int64]*conversation
	now           func() time.Time
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byKey:     make(map[string]*conversation),
		byMessage: make(map[int64]*conversation),
		now:       time.Now,
	}
}

var _ repository.ConversationRepository = (*ConversationStore)(nil)

func (s *ConversationStore) EnsurePublic(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(models.PublicSelector())
	return nil
}

// upsertLocked returns the conversation for sel, creating it if needed.
func (s *ConversationStore) upsertLocked(sel models.Selector) *conversation {
	key := sel.Key()
	if c, ok := s.byKey[key]; ok {
		return c
	}
	s.nextConvID++
	now := s.now()
	c := &conversation{Conversation: models.Conversation{
		ID:           s.nextConvID,
		Kind:         sel.Kind,
		Participants: append([]string{}, sel.Participants...),
		GroupName:    sel.GroupName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	if c.Participants == nil || sel.Kind == models.KindPublic {
		c.Participants = []string{}
	}
	s.byKey[key] = c
	return c
}

func (s *ConversationStore) AppendMessage(ctx context.Context, sel models.Selector, msg models.Message) (*models.Message, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.upsertLocked(sel)
	stamp := s.now()
	if stamp.Before(c.last) {
		stamp = c.last
	}
	c.last = stamp
	c.UpdatedAt = stamp

	s.nextMessageID++
	out := msg
	out.ID = s.nextMessageID
	out.ConversationID = c.ID
	out.Kind = sel.Kind
	out.CreatedAt = stamp
	if msg.Attachment != nil {
		a := *msg.Attachment
		out.Attachment = &a
	}

	c.messages = append(c.messages, out)
	s.byMessage[out.ID] = c
	return &out, nil
}

func (s *ConversationStore) FetchPublic(ctx context.Context) ([]models.Message, error) {
	return s.fetch(models.PublicSelector()), nil
}

func (s *ConversationStore) FetchPrivate(ctx context.Context, a, b string) ([]models.Message, error) {
	return s.fetch(models.PrivateSelector(a, b)), nil
}

func (s *ConversationStore) FetchGroup(ctx context.Context, groupName string) ([]models.Message, error) {
	return s.fetch(models.Selector{Kind: models.KindGroup, GroupName: groupName}), nil
}

func (s *ConversationStore) fetch(sel models.Selector) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0)
	c, ok := s.byKey[sel.Key()]
	if !ok {
		return out
	}
	out = append(out, c.messages...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *ConversationStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byMessage[id]
	if !ok {
		return nil, nil
	}
	for i := range c.messages {
		if c.messages[i].ID == id {
			m := c.messages[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (s *ConversationStore) DeleteMessage(ctx context.Context, id int64, requester models.Requester) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byMessage[id]
	if !ok {
		return nil, fmt.Errorf("delete message %d: %w", id, repository.ErrNotFound)
	}
	for i := range c.messages {
		if c.messages[i].ID != id {
			continue
		}
		m := c.messages[i]
		if !m.CanBeDeletedBy(requester) {
			return nil, fmt.Errorf("delete message %d: %w", id, repository.ErrUnauthorized)
		}
		c.messages = append(c.messages[:i], c.messages[i+1:]...)
		delete(s.byMessage, id)
		return &m, nil
	}
	return nil, fmt.Errorf("delete message %d: %w", id, repository.ErrNotFound)
}

// GetConversation reads conversation metadata, nil when nothing has been
// appended yet. Delivery never routes on it; tests use it to inspect the
// stored participant snapshot.
func (s *ConversationStore) GetConversation(ctx context.Context, sel models.Selector) (*models.Conversation, error) {
	if sel.Kind == models.KindPrivate {
		sel.Participants = models.NormalizeParticipants(sel.Participants)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byKey[sel.Key()]
	if !ok {
		return nil, nil
	}
	conv := c.Conversation
	conv.Participants = append([]string{}, c.Participants...)
	return &conv, nil
}
