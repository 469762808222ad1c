// Package broker is the fanout bus between message ingestion and delivery.
//
// Every process subscribes with its own consumer identity, so each one
// sees every event and delivers it to the connections it holds. Ordering
// is FIFO per partition; publishers key events by conversation so one
// conversation always lands on one partition.
package broker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message is one event read from a topic.
type Message struct {
	Topic string
	Key   string
	Value []byte
	Time  time.Time
}

// Handler is called for each received event. Delivery is at-least-once:
// the same event may be handled again after a broker failover, or after
// the handler itself returned an error.
//
// A handler returns an error only for failures worth retrying, such as an
// unreachable database. Events it cannot use are dropped and return nil.
type Handler func(ctx context.Context, msg Message) error

type Broker interface {
	// Publish sends value on topic. A retriable transport failure triggers
	// one reconnect and resend before the error is returned.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// Subscribe consumes topic until ctx is cancelled. It returns nil on
	// cancellation and an error only if the subscription cannot start.
	Subscribe(ctx context.Context, topic string, h Handler) error

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// HandlerAttempts bounds how many times one event is offered to a
// failing handler before it is logged and skipped.
const HandlerAttempts = 3

const (
	BackoffMinInterval = time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

// backoff grows d from BackoffMinInterval by BackoffMultiplier and wraps
// around to the minimum once it passes BackoffMaxInterval.
func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
		return
	}
	*d = time.Duration(float64(*d) * BackoffMultiplier)
	if *d < BackoffMaxInterval {
		*d = d.Truncate(time.Millisecond)
	} else {
		*d = BackoffMinInterval
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// handle runs h on msg, backing off and retrying the same event while h
// fails, up to HandlerAttempts times. It returns false only when ctx ends
// first; the caller must then stop without acknowledging msg.
func handle(ctx context.Context, h Handler, msg Message, logger *zap.Logger, fields ...zap.Field) bool {
	var sleep time.Duration
	for attempt := 1; ; attempt++ {
		err := h(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		attrs := append(fields[:len(fields):len(fields)],
			zap.String("topic", msg.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt >= HandlerAttempts {
			logger.Error("handle message failed, skipping", attrs...)
			return true
		}
		backoff(&sleep)
		logger.Warn("handle message failed, retrying", append(attrs, zap.Duration("retry_in", sleep))...)
		if !sleepCtx(ctx, sleep) {
			return false
		}
	}
}
