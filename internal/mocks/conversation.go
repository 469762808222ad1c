package mocks

import (
	"context"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository is used where a test needs the store to fail.
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) EnsurePublic(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConversationRepository) AppendMessage(ctx context.Context, sel models.Selector, msg models.Message) (*models.Message, error) {
	args := m.Called(ctx, sel, msg)
	if v := args.Get(0); v != nil {
		return v.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) FetchPublic(ctx context.Context) ([]models.Message, error) {
	args := m.Called(ctx)
	return messages(args.Get(0)), args.Error(1)
}

func (m *MockConversationRepository) FetchPrivate(ctx context.Context, a, b string) ([]models.Message, error) {
	args := m.Called(ctx, a, b)
	return messages(args.Get(0)), args.Error(1)
}

func (m *MockConversationRepository) FetchGroup(ctx context.Context, groupName string) ([]models.Message, error) {
	args := m.Called(ctx, groupName)
	return messages(args.Get(0)), args.Error(1)
}

func (m *MockConversationRepository) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) DeleteMessage(ctx context.Context, id int64, requester models.Requester) (*models.Message, error) {
	args := m.Called(ctx, id, requester)
	if v := args.Get(0); v != nil {
		return v.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func messages(v any) []models.Message {
	if v == nil {
		return nil
	}
	return v.([]models.Message)
}

var _ repository.ConversationRepository = (*MockConversationRepository)(nil)
