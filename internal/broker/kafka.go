package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	kafkaDialTimeout    = 10 * time.Second
	kafkaPublishTimeout = 3 * time.Second
)

// KafkaWriter is the subset of *kafka.Writer used here.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReader is the subset of *kafka.Reader used here.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	// GroupID must be unique per process. A shared group would split the
	// partitions between processes and each would only see part of the
	// traffic.
	GroupID string
}

// Kafka is a Broker on top of segmentio/kafka-go.
type Kafka struct {
	cfg    KafkaConfig
	logger *zap.Logger

	newWriter func() KafkaWriter
	newReader func(topic string) KafkaReader

	mu     sync.Mutex
	writer KafkaWriter
}

func NewKafka(cfg KafkaConfig, logger *zap.Logger) *Kafka {
	k := &Kafka{cfg: cfg, logger: logger.With(zap.String("broker", "kafka"))}

	k.newWriter = func() KafkaWriter {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           kafkaPublishTimeout,
			Transport: &kafka.Transport{
				Dial: (&net.Dialer{Timeout: kafkaDialTimeout}).DialContext,
			},
		}
	}
	k.newReader = func(topic string) KafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.LastOffset,
			Dialer: &kafka.Dialer{
				Timeout:   kafkaDialTimeout,
				DualStack: true,
			},
		})
	}
	return k
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) currentWriter() KafkaWriter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		k.writer = k.newWriter()
	}
	return k.writer
}

// reconnect drops the writer so the next write dials fresh connections.
func (k *Kafka) reconnect(stale KafkaWriter) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer != stale {
		// Another publisher already replaced it.
		return
	}
	if err := stale.Close(); err != nil {
		k.logger.Debug("closing stale writer", zap.Error(err))
	}
	k.writer = k.newWriter()
}

func (k *Kafka) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: value}

	w := k.currentWriter()
	err := k.write(ctx, w, msg)
	if err == nil {
		return nil
	}
	if !isRetriable(err) {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	k.logger.Warn("publish failed, reconnecting", zap.String("topic", topic), zap.Error(err))
	k.reconnect(w)
	if err := k.write(ctx, k.currentWriter(), msg); err != nil {
		return fmt.Errorf("publish to %s after reconnect: %w", topic, err)
	}
	return nil
}

func (k *Kafka) write(ctx context.Context, w KafkaWriter, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, kafkaPublishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, msg)
}

// Subscribe runs the consume loop: fetch, handle, commit. A failing
// handler gets the same event again with backoff; the offset is committed
// once it succeeds or after HandlerAttempts tries, so one poisoned event
// cannot stall the partition forever.
func (k *Kafka) Subscribe(ctx context.Context, topic string, h Handler) error {
	r := k.newReader(topic)
	defer func() {
		if err := r.Close(); err != nil {
			k.logger.Warn("close reader", zap.Error(err))
		}
	}()

	k.logger.Info("consume loop started", zap.String("topic", topic), zap.String("group_id", k.cfg.GroupID))
	defer k.logger.Info("consume loop exited", zap.String("topic", topic))

	var sleep time.Duration
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			backoff(&sleep)
			k.logger.Error("fetch message", zap.Error(err), zap.Duration("retry_in", sleep))
			if !sleepCtx(ctx, sleep) {
				return nil
			}
			continue
		}
		sleep = 0

		m := Message{Topic: msg.Topic, Key: string(msg.Key), Value: msg.Value, Time: msg.Time}
		if !handle(ctx, h, m, k.logger, zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset)) {
			// Uncommitted, so the next consumer of this partition sees it again.
			return nil
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Error("commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

// isRetriable reports whether err looks like a broken or flapping
// connection rather than a rejected request.
func isRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && isRetriable(e) {
				return true
			}
		}
		return false
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded)
}
