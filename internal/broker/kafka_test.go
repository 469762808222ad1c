package broker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestKafka(writers ...*mockWriter) (*Kafka, *int) {
	k := NewKafka(KafkaConfig{Brokers: []string{"unused:9092"}, GroupID: "test-instance"}, zap.NewNop())
	made := 0
	k.newWriter = func() KafkaWriter {
		w := writers[made]
		made++
		return w
	}
	return k, &made
}

func TestKafkaPublishKeysByConversation(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 &&
			msgs[0].Topic == "chat-messages" &&
			string(msgs[0].Key) == "private:alice,bob" &&
			string(msgs[0].Value) == "payload"
	})).Return(nil).Once()

	k, made := newTestKafka(w)
	require.NoError(t, k.Publish(context.Background(), "chat-messages", "private:alice,bob", []byte("payload")))

	assert.Equal(t, 1, *made)
	w.AssertExpectations(t)
}

func TestKafkaPublishReconnectsOnceOnTransientError(t *testing.T) {
	first, second := &mockWriter{}, &mockWriter{}
	first.On("WriteMessages", mock.Anything).Return(io.ErrUnexpectedEOF).Once()
	first.On("Close").Return(nil).Once()
	second.On("WriteMessages", mock.Anything).Return(nil).Once()

	k, made := newTestKafka(first, second)
	require.NoError(t, k.Publish(context.Background(), "chat-messages", "public", []byte("x")))

	assert.Equal(t, 2, *made)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestKafkaPublishGivesUpAfterOneRetry(t *testing.T) {
	first, second := &mockWriter{}, &mockWriter{}
	first.On("WriteMessages", mock.Anything).Return(kafka.LeaderNotAvailable).Once()
	first.On("Close").Return(nil).Once()
	second.On("WriteMessages", mock.Anything).Return(kafka.LeaderNotAvailable).Once()

	k, _ := newTestKafka(first, second)
	err := k.Publish(context.Background(), "chat-messages", "public", []byte("x"))

	require.Error(t, err)
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	second.AssertNumberOfCalls(t, "WriteMessages", 1)
}

func TestKafkaPublishDoesNotRetryPermanentErrors(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything).Return(kafka.MessageSizeTooLarge).Once()

	k, made := newTestKafka(w)
	err := k.Publish(context.Background(), "chat-messages", "public", []byte("x"))

	assert.ErrorIs(t, err, kafka.MessageSizeTooLarge)
	assert.Equal(t, 1, *made)
	w.AssertNotCalled(t, "Close")
}

func TestKafkaSubscribeHandlesAndCommits(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("broker restarting")},
		queue: []kafka.Message{
			{Topic: "chat-messages", Offset: 10, Key: []byte("public"), Value: []byte("good")},
			{Topic: "chat-messages", Offset: 11, Key: []byte("public"), Value: []byte("bad")},
			{Topic: "chat-messages", Offset: 12, Key: []byte("public"), Value: []byte("good")},
		},
	}
	k := NewKafka(KafkaConfig{GroupID: "test-instance"}, zap.NewNop())
	k.newReader = func(topic string) KafkaReader { return r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error)
	go func() {
		done <- k.Subscribe(ctx, "chat-messages", func(_ context.Context, m Message) error {
			mu.Lock()
			seen = append(seen, string(m.Value))
			mu.Unlock()
			if string(m.Value) == "bad" {
				return errors.New("cannot decode")
			}
			return nil
		})
	}()

	// One fetch backoff (1s) plus two handler backoffs for "bad" (1s, 1.5s).
	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, 6*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, r.commits())
	mu.Lock()
	assert.Equal(t, []string{"good", "bad", "bad", "bad", "good"}, seen)
	mu.Unlock()
	assert.True(t, r.closed)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, isRetriable(io.EOF))
	assert.True(t, isRetriable(kafka.NotLeaderForPartition))
	assert.True(t, isRetriable(kafka.WriteErrors{nil, kafka.RequestTimedOut}))
	assert.False(t, isRetriable(kafka.TopicAuthorizationFailed))
	assert.False(t, isRetriable(context.Canceled))
	assert.False(t, isRetriable(errors.New("boom")))
}

func TestKafkaRetriesFailedHandlerBeforeCommit(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Topic: "chat-messages", Offset: 7, Key: []byte("group:ops"), Value: []byte("evt")}}}
	k := NewKafka(KafkaConfig{GroupID: "test-instance"}, zap.NewNop())
	k.newReader = func(string) KafkaReader { return r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	done := make(chan error)
	go func() {
		done <- k.Subscribe(ctx, "chat-messages", func(context.Context, Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				assert.Empty(t, r.commits(), "offset committed before the handler succeeded")
				return errors.New(`read members of "ops": connection refused`)
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	assert.Equal(t, []int64{7}, r.commits())
}

func TestKafkaSkipsEventAfterHandlerAttempts(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Topic: "chat-messages", Offset: 3, Value: []byte("stuck")},
		{Topic: "chat-messages", Offset: 4, Value: []byte("next")},
	}}
	k := NewKafka(KafkaConfig{GroupID: "test-instance"}, zap.NewNop())
	k.newReader = func(string) KafkaReader { return r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan error)
	go func() {
		done <- k.Subscribe(ctx, "chat-messages", func(_ context.Context, m Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen[string(m.Value)]++
			if string(m.Value) == "stuck" {
				return errors.New("database down")
			}
			return nil
		})
	}()

	// Two backoff sleeps: 1s then 1.5s.
	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, map[string]int{"stuck": HandlerAttempts, "next": 1}, seen)
	mu.Unlock()
	assert.Equal(t, []int64{3, 4}, r.commits())
}

func TestKafkaLeavesOffsetWhenCancelledMidRetry(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Topic: "chat-messages", Offset: 9, Value: []byte("evt")}}}
	k := NewKafka(KafkaConfig{GroupID: "test-instance"}, zap.NewNop())
	k.newReader = func(string) KafkaReader { return r }

	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan struct{}, 1)
	done := make(chan error)
	go func() {
		done <- k.Subscribe(ctx, "chat-messages", func(context.Context, Message) error {
			failed <- struct{}{}
			return errors.New("database down")
		})
	}()

	<-failed
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.commits())
}
