package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository_GetOrCreate(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	s1, err := stores.Sessions.GetOrCreateSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, s1.Messages)

	require.NoError(t, stores.Sessions.AppendMessage(ctx, "s1", core.Message{Role: core.RoleUser, Content: "hi"}))

	s2, err := stores.Sessions.GetOrCreateSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s2.Messages, 1)
	assert.True(t, s1.CreatedAt.Equal(s2.CreatedAt))
}

func TestSessionRepository_RecentMessages(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		require.NoError(t, stores.Sessions.AppendMessage(ctx, "s1", core.Message{Role: role, Content: fmt.Sprintf("m%d", i)}))
	}

	recent, err := stores.Sessions.RecentMessages(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m2", recent[0].Content)
	assert.Equal(t, "m4", recent[2].Content)

	all, err := stores.Sessions.RecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	zero, err := stores.Sessions.RecentMessages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, zero)
	assert.NotNil(t, zero)

	negative, err := stores.Sessions.RecentMessages(ctx, "s1", -1)
	require.NoError(t, err)
	assert.Empty(t, negative)

	none, err := stores.Sessions.RecentMessages(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSessionRepository_AppendValidates(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	err := stores.Sessions.AppendMessage(ctx, "s1", core.Message{Role: core.RoleUser, Content: "q", Sources: []core.Source{{ChunkID: "c"}}})
	assert.ErrorIs(t, err, core.ErrInvalidMessage)

	err = stores.Sessions.AppendMessage(ctx, "", core.Message{Role: core.RoleUser, Content: "q"})
	assert.ErrorIs(t, err, core.ErrEmptyID)
}

func TestSessionRepository_ConcurrentAppends(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, stores.Sessions.AppendMessage(ctx, "s1", core.Message{Role: core.RoleUser, Content: fmt.Sprintf("m%d", i)}))
		}(i)
	}
	wg.Wait()

	session, err := stores.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, session.Messages, n)
}

func TestSessionRepository_ClearAndDelete(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Sessions.AppendMessage(ctx, "s1", core.Message{Role: core.RoleUser, Content: "hi"}))
	require.NoError(t, stores.Sessions.ClearSession(ctx, "s1"))

	session, err := stores.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, session.Messages)

	require.NoError(t, stores.Sessions.DeleteSession(ctx, "s1"))
	_, err = stores.Sessions.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, stores.Sessions.DeleteSession(ctx, "s1"), storage.ErrNotFound)
	assert.ErrorIs(t, stores.Sessions.ClearSession(ctx, "s1"), storage.ErrNotFound)
}
