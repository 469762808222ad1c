package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/talksphere/internal/db"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testPool connects to TEST_DATABASE_URL and applies the schema.
// Tests use random handles so they can share one database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	database, err := db.New(ctx, db.PoolOptions{URL: url, MaxConns: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(database.Close)
	require.NoError(t, database.Migrate(ctx))
	return database.Pool()
}

func handle(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestEnsurePublicIsIdempotent(t *testing.T) {
	store := NewConversationStore(testPool(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.EnsurePublic(ctx))
		}()
	}
	wg.Wait()

	conv, err := store.GetConversation(ctx, models.PublicSelector())
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, models.KindPublic, conv.Kind)
}

func TestPrivateLookupIgnoresParticipantOrder(t *testing.T) {
	store := NewConversationStore(testPool(t))
	ctx := context.Background()
	alice, bob := handle("alice"), handle("bob")

	saved, err := store.AppendMessage(ctx, models.PrivateSelector(alice, bob), models.Message{
		Sender: alice, Recipient: bob, Text: "hi bob",
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := store.FetchPrivate(ctx, bob, alice)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, saved.ID, got[0].ID)
	assert.Equal(t, "hi bob", got[0].Text)
}

func TestConcurrentFirstAppendsCreateOneConversation(t *testing.T) {
	store := NewConversationStore(testPool(t))
	ctx := context.Background()
	alice, bob := handle("alice"), handle("bob")

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice, bob
			if i%2 == 1 {
				from, to = bob, alice
			}
			_, err := store.AppendMessage(ctx, models.PrivateSelector(from, to), models.Message{
				Sender: from, Recipient: to, Text: "race",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := store.FetchPrivate(ctx, alice, bob)
	require.NoError(t, err)
	require.Len(t, msgs, senders)

	convID := msgs[0].ConversationID
	for i, m := range msgs {
		assert.Equal(t, convID, m.ConversationID, "all messages share one conversation")
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt), "timestamps never go backwards")
		}
	}
}

func TestDeleteMessagePolicy(t *testing.T) {
	store := NewConversationStore(testPool(t))
	ctx := context.Background()
	require.NoError(t, store.EnsurePublic(ctx))
	alice := handle("alice")

	saved, err := store.AppendMessage(ctx, models.PublicSelector(), models.Message{Sender: alice, Text: "hello"})
	require.NoError(t, err)

	_, err = store.DeleteMessage(ctx, saved.ID, models.Requester{UserName: "mallory", Role: models.RoleUser})
	assert.ErrorIs(t, err, repository.ErrUnauthorized)

	still, err := store.GetMessage(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, still)

	removed, err := store.DeleteMessage(ctx, saved.ID, models.Requester{UserName: alice, Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, removed.ID)

	_, err = store.DeleteMessage(ctx, saved.ID, models.Requester{UserName: alice, Role: models.RoleUser})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGroupAppendSnapshotsMembers(t *testing.T) {
	pool := testPool(t)
	groups := NewGroupStore(pool)
	store := NewConversationStore(pool)
	ctx := context.Background()
	owner, member := handle("owner"), handle("member")
	name := handle("team")

	g, err := groups.Create(ctx, name, owner, []string{member})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{owner, member}, g.Members)

	_, err = store.AppendMessage(ctx, models.GroupSelector(name, g.Members), models.Message{
		Sender: owner, GroupName: name, Text: "standup",
	})
	require.NoError(t, err)

	late := handle("late")
	require.NoError(t, groups.AddMember(ctx, name, late))

	conv, err := store.GetConversation(ctx, models.Selector{Kind: models.KindGroup, GroupName: name})
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.NotContains(t, conv.Participants, late)

	fresh, err := groups.Members(ctx, name)
	require.NoError(t, err)
	assert.Contains(t, fresh, late)

	msgs, err := store.FetchGroup(ctx, name)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
