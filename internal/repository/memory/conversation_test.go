package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIDAndMonotonicTime(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, store.EnsurePublic(ctx))

	// A clock that goes backwards must not reorder the log.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	store.now = func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	}

	var saved []*models.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := store.AppendMessage(ctx, models.PublicSelector(), models.Message{Sender: "alice", Text: text})
		require.NoError(t, err)
		saved = append(saved, m)
	}

	got, err := store.FetchPublic(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
		assert.Greater(t, got[i].ID, got[i-1].ID)
	}
	assert.Equal(t, []string{"one", "two", "three"}, []string{got[0].Text, got[1].Text, got[2].Text})
	assert.Equal(t, saved[1].CreatedAt, saved[0].CreatedAt, "tie keeps insertion order")
}

func TestReversedPrivateLookup(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	_, err := store.AppendMessage(ctx, models.PrivateSelector("alice", "bob"), models.Message{
		Sender: "alice", Recipient: "bob", Text: "psst",
	})
	require.NoError(t, err)

	got, err := store.FetchPrivate(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "psst", got[0].Text)
	assert.Equal(t, models.KindPrivate, got[0].Kind)
}

func TestConcurrentAppendsShareConversation(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "alice", "bob"
			if i == 1 {
				from, to = to, from
			}
			_, err := store.AppendMessage(ctx, models.PrivateSelector(from, to), models.Message{Sender: from, Recipient: to, Text: "x"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.byKey, 1)
	got, err := store.FetchPrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDeleteMessage(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	m, err := store.AppendMessage(ctx, models.PublicSelector(), models.Message{Sender: "alice", Text: "oops"})
	require.NoError(t, err)

	_, err = store.DeleteMessage(ctx, m.ID, models.Requester{UserName: "bob", Role: models.RoleUser})
	assert.ErrorIs(t, err, repository.ErrUnauthorized)

	got, _ := store.FetchPublic(ctx)
	assert.Len(t, got, 1)

	removed, err := store.DeleteMessage(ctx, m.ID, models.Requester{UserName: "alice", Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, m.ID, removed.ID)

	_, err = store.DeleteMessage(ctx, m.ID, models.Requester{UserName: "alice", Role: models.RoleUser})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, _ = store.FetchPublic(ctx)
	assert.Empty(t, got)
}

func TestFetchMissingConversationIsEmpty(t *testing.T) {
	store := NewConversationStore()

	got, err := store.FetchGroup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGroupStoreMembership(t *testing.T) {
	groups := NewGroupStore()
	ctx := context.Background()

	g, err := groups.Create(ctx, "ops", "carol", []string{"dave", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, g.Members)

	_, err = groups.Create(ctx, "ops", "eve", nil)
	assert.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, groups.AddMember(ctx, "ops", "erin"))
	require.NoError(t, groups.RemoveMember(ctx, "ops", "dave"))

	members, err := groups.Members(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "erin"}, members)

	_, err = groups.Members(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
