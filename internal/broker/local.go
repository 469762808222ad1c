package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("broker closed")

const localQueueSize = 256

// Local is an in-process Broker. Each Subscribe call gets its own queue,
// the same as an independent consumer on a real bus. Used for single
// process deployments and tests.
type Local struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Message
	done chan struct{}
}

func NewLocal(logger *zap.Logger) *Local {
	return &Local{
		logger: logger.With(zap.String("broker", "local")),
		subs:   make(map[string]map[*localSub]struct{}),
	}
}

func (l *Local) Name() string { return "local" }

// Publish enqueues value for every current subscriber of topic, blocking
// while a subscriber's queue is full.
func (l *Local) Publish(ctx context.Context, topic, key string, value []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Key: key, Value: append([]byte(nil), value...), Time: time.Now()}
	for sub := range l.subs[topic] {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, topic string, h Handler) error {
	sub := &localSub{ch: make(chan Message, localQueueSize), done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[*localSub]struct{})
	}
	l.subs[topic][sub] = struct{}{}
	l.mu.Unlock()

	defer func() {
		close(sub.done)
		l.mu.Lock()
		delete(l.subs[topic], sub)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-sub.ch:
			if !handle(ctx, h, msg, l.logger) {
				return nil
			}
		}
	}
}

// Subscribers reports how many subscriptions topic has. Tests use it to
// wait until a consumer is attached before publishing.
func (l *Local) Subscribers(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[topic])
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
