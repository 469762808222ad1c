package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

var ErrGroupExists = errors.New("group already exists")

// CreateGroup creates name with creator as its first member.
func (s *Service) CreateGroup(ctx context.Context, name, creator string, members []string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("group name is required")
	}
	g, err := s.groups.Create(ctx, name, creator, members)
	if errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("%w: %q", ErrGroupExists, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.events.GroupCreated(ctx, g)
	return g, nil
}

func (s *Service) Group(ctx context.Context, name string, requester models.Requester) (*models.Group, error) {
	g, err := s.groups.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: group %q", ErrNotFound, name)
	}
	if !requester.IsAdmin() && !g.HasMember(requester.UserName) {
		return nil, fmt.Errorf("%w: not a member of %q", ErrUnauthorized, name)
	}
	return g, nil
}

func (s *Service) GroupsOf(ctx context.Context, userName string) ([]models.Group, error) {
	groups, err := s.groups.ListForUser(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// AddMember and RemoveMember are reserved to the group creator and admins.
// Delivery reads membership fresh, so a change applies to the next message.
func (s *Service) AddMember(ctx context.Context, name, userName string, requester models.Requester) error {
	if err := s.canManage(ctx, name, requester); err != nil {
		return err
	}
	if strings.TrimSpace(userName) == "" {
		return invalid("member is required")
	}
	return mapRepoErr(s.groups.AddMember(ctx, name, userName), "add member")
}

func (s *Service) RemoveMember(ctx context.Context, name, userName string, requester models.Requester) error {
	if err := s.canManage(ctx, name, requester); err != nil {
		return err
	}
	return mapRepoErr(s.groups.RemoveMember(ctx, name, userName), "remove member")
}

func (s *Service) canManage(ctx context.Context, name string, requester models.Requester) error {
	g, err := s.groups.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if g == nil {
		return fmt.Errorf("%w: group %q", ErrNotFound, name)
	}
	if !requester.IsAdmin() && g.CreatedBy != requester.UserName {
		return fmt.Errorf("%w: only the creator manages %q", ErrUnauthorized, name)
	}
	return nil
}

func mapRepoErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, repository.ErrUnauthorized):
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
