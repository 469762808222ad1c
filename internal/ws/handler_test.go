package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/broker"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/delivery"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/presence"
	"github.com/lalith-99/talksphere/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "ws-secret"
	testTopic  = "chat-messages"
)

type harness struct {
	server   *httptest.Server
	registry *presence.Registry
	users    *memory.UserStore
	status   *recordingStatus
}

// recordingStatus counts status writes on top of the user store.
type recordingStatus struct {
	*memory.UserStore

	mu     sync.Mutex
	writes map[models.Status]int
}

func (r *recordingStatus) SetStatus(ctx context.Context, userName string, status models.Status) error {
	r.mu.Lock()
	r.writes[status]++
	r.mu.Unlock()
	return r.UserStore.SetStatus(ctx, userName, status)
}

func (r *recordingStatus) count(status models.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[status]
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	convs := memory.NewConversationStore()
	users := memory.NewUserStore()
	groups := memory.NewGroupStore()
	bus := broker.NewLocal(zap.NewNop())
	registry := presence.NewRegistry()

	engine := delivery.NewEngine(registry, groups, zap.NewNop())
	go func() { _ = engine.Run(ctx, bus, testTopic) }()
	require.Eventually(t, func() bool { return bus.Subscribers(testTopic) == 1 }, time.Second, 5*time.Millisecond)

	svc := chat.NewService(chat.Deps{
		Conversations: convs,
		Users:         users,
		Groups:        groups,
		Broker:        bus,
		Topic:         testTopic,
		Logger:        zap.NewNop(),
	})

	status := &recordingStatus{UserStore: users, writes: map[models.Status]int{}}
	h := NewHandler(auth.NewVerifier(testSecret), registry, svc, status, opts, zap.NewNop())
	r := gin.New()
	r.GET("/v1/ws", h.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{server: srv, registry: registry, users: users, status: status}
}

func (h *harness) dial(t *testing.T, userName string) *websocket.Conn {
	t.Helper()
	tok, err := auth.GenerateToken(&models.User{ID: uuid.New(), UserName: userName, Role: models.RoleUser}, testSecret, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/ws?token=" + tok
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(Frame{Event: event, Data: data}))
}

func next(t *testing.T, c *websocket.Conn) received {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f received
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func identify(t *testing.T, c *websocket.Conn, user string) {
	t.Helper()
	send(t, c, models.FrameIdentify, identifyPayload{UserHandle: user})
	f := next(t, c)
	require.Equal(t, models.FrameIdentified, f.Event, string(f.Data))
}

func TestHandshakeRequiresToken(t *testing.T) {
	h := newHarness(t, Options{})

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublicMessageEchoAndFanout(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	identify(t, alice, "alice")
	identify(t, bob, "bob")

	send(t, alice, models.FrameChatMessage, chatMessagePayload{
		Sender: "alice", Kind: models.KindPublic, Text: "hello", ClientTempID: "tmp-1",
	})

	echo := next(t, alice)
	require.Equal(t, models.FrameMessageReceived, echo.Event)
	var got struct {
		ServerID     int64  `json:"serverId"`
		Text         string `json:"text"`
		Sender       string `json:"by"`
		ClientTempID string `json:"clientTempId"`
	}
	require.NoError(t, json.Unmarshal(echo.Data, &got))
	assert.NotZero(t, got.ServerID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "tmp-1", got.ClientTempID)

	fan := next(t, bob)
	assert.Equal(t, models.FrameMessageReceived, fan.Event)

	// The engine skips alice's connection, so the next frame she gets is
	// the reply to this unknown event rather than a second copy.
	send(t, alice, "typing", nil)
	f := next(t, alice)
	assert.Equal(t, models.FrameError, f.Event)
	assert.Contains(t, string(f.Data), codeUnknownEvent)
}

func TestIdentifyMustMatchToken(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.dial(t, "alice")

	send(t, c, models.FrameIdentify, identifyPayload{UserHandle: "bob"})
	f := next(t, c)
	assert.Equal(t, models.FrameError, f.Event)
	assert.Contains(t, string(f.Data), codeForbidden)
	assert.False(t, h.registry.Online("bob"))
}

func TestChatMessageChecks(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.dial(t, "alice")

	send(t, c, models.FrameChatMessage, chatMessagePayload{Sender: "alice", Kind: models.KindPublic, Text: "early"})
	assert.Contains(t, string(next(t, c).Data), codeNotIdent)

	identify(t, c, "alice")

	send(t, c, models.FrameChatMessage, chatMessagePayload{Sender: "bob", Kind: models.KindPublic, Text: "spoof"})
	assert.Contains(t, string(next(t, c).Data), codeForbidden)

	send(t, c, models.FrameChatMessage, chatMessagePayload{Sender: "alice", Kind: models.KindPrivate, Text: "to nobody"})
	assert.Contains(t, string(next(t, c).Data), codeInvalid)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{MessagesPerSecond: 0.001, Burst: 1})
	c := h.dial(t, "alice")
	identify(t, c, "alice")

	send(t, c, models.FrameChatMessage, chatMessagePayload{Sender: "alice", Kind: models.KindPublic, Text: "one"})
	assert.Equal(t, models.FrameMessageReceived, next(t, c).Event)

	send(t, c, models.FrameChatMessage, chatMessagePayload{Sender: "alice", Kind: models.KindPublic, Text: "two"})
	f := next(t, c)
	assert.Equal(t, models.FrameError, f.Event)
	assert.Contains(t, string(f.Data), codeRateLimited)
}

func TestStatusFollowsConnections(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.users.Create(ctx, models.User{UserName: "alice", Name: "Alice"})
	require.NoError(t, err)

	phone := h.dial(t, "alice")
	laptop := h.dial(t, "alice")
	identify(t, phone, "alice")
	identify(t, laptop, "alice")

	status := func() models.Status {
		u, _ := h.users.GetByUserName(ctx, "alice")
		if u == nil {
			return ""
		}
		return u.Status
	}
	assert.Equal(t, models.StatusOnline, status())
	assert.Equal(t, 1, h.status.count(models.StatusOnline), "second device does not rewrite status")

	require.NoError(t, phone.Close())
	require.Eventually(t, func() bool { return h.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusOnline, status(), "laptop still connected")

	require.NoError(t, laptop.Close())
	require.Eventually(t, func() bool { return status() == models.StatusOffline }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.registry.Online("alice"))
	assert.Equal(t, 1, h.status.count(models.StatusOffline))
}
