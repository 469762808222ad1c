package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Broker on Redis pub/sub. Every subscriber receives every
// message on a channel, which gives each process its own consumer
// identity without configuration. Pub/sub does not replay: a process that
// is disconnected misses events published in the meantime.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(ctx context.Context, url string, logger *zap.Logger) (*Redis, error) {
	opts, err := redisOptions(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, logger), nil
}

// redisOptions turns off the client's own command retries so that Publish
// resends at most once.
func redisOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.MaxRetries = -1
	return opts, nil
}

func NewRedisWithClient(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger.With(zap.String("broker", "redis"))}
}

func (r *Redis) Name() string { return "redis" }

// Publish ignores key: a pub/sub channel is a single ordered stream.
func (r *Redis) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := r.client.Publish(ctx, topic, value).Err()
	if err == nil {
		return nil
	}
	if !isRedisRetriable(err) {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	// The pool drops the broken connection, so the resend dials a new one.
	r.logger.Warn("publish failed, retrying on a new connection", zap.String("topic", topic), zap.Error(err))
	if err := r.client.Publish(ctx, topic, value).Err(); err != nil {
		return fmt.Errorf("publish to %s after reconnect: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) error {
	ps := r.client.Subscribe(ctx, topic)
	defer ps.Close()

	// Wait for the subscription confirmation so a failure surfaces here
	// instead of as a silent empty channel.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	r.logger.Info("consume loop started", zap.String("topic", topic))
	defer r.logger.Info("consume loop exited", zap.String("topic", topic))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !handle(ctx, h, Message{Topic: msg.Channel, Value: []byte(msg.Payload), Time: time.Now()}, r.logger) {
				return nil
			}
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func isRedisRetriable(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return isRetriable(err)
}
