package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(_ context.Context, m Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *collector) values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, string(m.Value))
	}
	return out
}

func TestLocalEverySubscriberSeesEveryEvent(t *testing.T) {
	bus := NewLocal(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, b collector
	go func() { _ = bus.Subscribe(ctx, "chat-messages", a.handle) }()
	go func() { _ = bus.Subscribe(ctx, "chat-messages", b.handle) }()
	require.Eventually(t, func() bool { return bus.Subscribers("chat-messages") == 2 }, time.Second, 5*time.Millisecond)

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(ctx, "chat-messages", "public", []byte(v)))
	}

	want := []string{"1", "2", "3"}
	require.Eventually(t, func() bool { return len(a.values()) == 3 && len(b.values()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.values())
	assert.Equal(t, want, b.values())
}

func TestLocalTopicsAreIsolated(t *testing.T) {
	bus := NewLocal(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c collector
	go func() { _ = bus.Subscribe(ctx, "chat-messages", c.handle) }()
	require.Eventually(t, func() bool { return bus.Subscribers("chat-messages") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "other", "k", []byte("nope")))
	require.NoError(t, bus.Publish(ctx, "chat-messages", "k", []byte("yes")))

	require.Eventually(t, func() bool { return len(c.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"yes"}, c.values())
}

func TestLocalUnsubscribeOnCancel(t *testing.T) {
	bus := NewLocal(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- bus.Subscribe(ctx, "t", func(context.Context, Message) error { return nil }) }()
	require.Eventually(t, func() bool { return bus.Subscribers("t") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Zero(t, bus.Subscribers("t"))
	assert.NoError(t, bus.Publish(context.Background(), "t", "k", []byte("after")))
}

func TestLocalClosed(t *testing.T) {
	bus := NewLocal(zap.NewNop())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), "t", "k", nil), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), "t", nil), ErrClosed)
}

func TestBackoff(t *testing.T) {
	var d time.Duration
	backoff(&d)
	assert.Equal(t, BackoffMinInterval, d)
	backoff(&d)
	assert.Equal(t, 1500*time.Millisecond, d)

	d = 50 * time.Second
	backoff(&d)
	assert.Equal(t, BackoffMinInterval, d, "wraps after the max")
}

func TestLocalRetriesFailedHandler(t *testing.T) {
	bus := NewLocal(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = bus.Subscribe(ctx, "t", func(context.Context, Message) error {
			if calls.Add(1) == 1 {
				return errors.New("connection refused")
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return bus.Subscribers("t") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "t", "k", []byte("evt")))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}
