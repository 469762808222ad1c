// Package mocks holds testify mocks shared across package tests.
package mocks

import (
	"context"

	"github.com/lalith-99/talksphere/internal/broker"
	"github.com/stretchr/testify/mock"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func (m *MockBroker) Subscribe(ctx context.Context, topic string, h broker.Handler) error {
	args := m.Called(ctx, topic, h)
	return args.Error(0)
}

func (m *MockBroker) Name() string {
	return "mock"
}

func (m *MockBroker) Close() error {
	return nil
}

var _ broker.Broker = (*MockBroker)(nil)
