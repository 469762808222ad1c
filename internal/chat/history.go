package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/lalith-99/talksphere/internal/models"
)

func (s *Service) PublicHistory(ctx context.Context) ([]models.Message, error) {
	msgs, err := s.conversations.FetchPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch public: %w", err)
	}
	return msgs, nil
}

// PrivateHistory returns the conversation between a and b. The requester
// must be one of them or an admin.
func (s *Service) PrivateHistory(ctx context.Context, a, b string, requester models.Requester) ([]models.Message, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, invalid("private history needs two distinct users")
	}
	if !requester.IsAdmin() && requester.UserName != a && requester.UserName != b {
		return nil, fmt.Errorf("%w: not a participant", ErrUnauthorized)
	}
	msgs, err := s.conversations.FetchPrivate(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("fetch private: %w", err)
	}
	return msgs, nil
}

// GroupHistory returns a group's log to its members and admins.
func (s *Service) GroupHistory(ctx context.Context, name string, requester models.Requester) ([]models.Message, error) {
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
	msgs, err := s.conversations.FetchGroup(ctx, g.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch group: %w", err)
	}
	return msgs, nil
}
