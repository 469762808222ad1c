package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

type GroupStore struct {
	mu     sync.RWMutex
	groups map[string]*models.Group
}

func NewGroupStore() *GroupStore {
	return &GroupStore{groups: make(map[string]*models.Group)}
}

var _ repository.GroupRepository = (*GroupStore)(nil)

func (s *GroupStore) Create(ctx context.Context, name, createdBy string, members []string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[name]; ok {
		return nil, fmt.Errorf("create group: %w", repository.ErrConflict)
	}
	g := &models.Group{
		ID:        uuid.New(),
		Name:      name,
		Members:   models.NormalizeParticipants(append(append([]string{}, members...), createdBy)),
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	s.groups[name] = g
	return copyGroup(g), nil
}

func (s *GroupStore) Get(ctx context.Context, name string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[name]
	if !ok {
		return nil, nil
	}
	return copyGroup(g), nil
}

func (s *GroupStore) Members(ctx context.Context, name string) ([]string, error) {
	g, _ := s.Get(ctx, name)
	if g == nil {
		return nil, fmt.Errorf("group %q: %w", name, repository.ErrNotFound)
	}
	return g.Members, nil
}

func (s *GroupStore) AddMember(ctx context.Context, name, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("group %q: %w", name, repository.ErrNotFound)
	}
	g.Members = models.NormalizeParticipants(append(g.Members, userName))
	return nil
}

func (s *GroupStore) RemoveMember(ctx context.Context, name, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return nil
	}
	kept := g.Members[:0]
	for _, m := range g.Members {
		if m != userName {
			kept = append(kept, m)
		}
	}
	g.Members = kept
	return nil
}

func (s *GroupStore) ListForUser(ctx context.Context, userName string) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Group, 0)
	for _, g := range s.groups {
		if g.HasMember(userName) {
			out = append(out, *copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func copyGroup(g *models.Group) *models.Group {
	out := *g
	out.Members = append([]string{}, g.Members...)
	return &out
}
