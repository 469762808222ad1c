package mocks

import (
	"context"

	"github.com/lalith-99/talksphere/internal/audit"
	"github.com/stretchr/testify/mock"
)

type MockAuditPublisher struct {
	mock.Mock
}

func (m *MockAuditPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *MockAuditPublisher) Close() error {
	return nil
}

var _ audit.Publisher = (*MockAuditPublisher)(nil)
