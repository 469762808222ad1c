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

type UserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*models.User)}
}

var _ repository.UserRepository = (*UserStore)(nil)

func (s *UserStore) Create(ctx context.Context, u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.UserName]; ok {
		return nil, repository.ErrConflict
	}
	s.users[u.UserName] = withDefaults(u)
	out := *s.users[u.UserName]
	return &out, nil
}

func withDefaults(u models.User) *models.User {
	now := time.Now()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Avatar == "" {
		u.Avatar = models.DefaultAvatar
	}
	if u.Status == "" {
		u.Status = models.StatusOffline
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return &u
}

func (s *UserStore) UpsertProfile(ctx context.Context, userName, name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userName]
	if !ok {
		s.users[userName] = withDefaults(models.User{UserName: userName, Name: name, Email: email})
		return nil
	}
	if name != "" {
		u.Name = name
	}
	if email != "" {
		u.Email = email
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *UserStore) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userName]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name == users[j].Name {
			return users[i].UserName < users[j].UserName
		}
		return users[i].Name < users[j].Name
	})
	return users, nil
}

func (s *UserStore) SetStatus(ctx context.Context, userName string, status models.Status) error {
	return s.update(userName, "set status", func(u *models.User) { u.Status = status })
}

func (s *UserStore) SetAvatar(ctx context.Context, userName, avatar string) error {
	return s.update(userName, "set avatar", func(u *models.User) { u.Avatar = avatar })
}

func (s *UserStore) update(userName, op string, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userName]
	if !ok {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}
