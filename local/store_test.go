package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
)

func newSession(id, date string, created time.Time, texts ...string) *chatsync.ChatSession {
	s := &chatsync.ChatSession{
		ID:        id,
		Date:      date,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for i, text := range texts {
		s.Append(chatsync.NewMessage(chatsync.SenderUser, text, created.Add(time.Duration(i+1)*time.Second)))
	}
	return s
}

// runStoreSuite exercises the Store contract against any driver.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	t.Run("get missing returns nil", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("put then get keeps message order", func(t *testing.T) {
		s := newStore(t)
		sess := newSession("s1", "2024-01-15", base, "one", "two", "three")
		require.NoError(t, s.Put(ctx, sess))

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got.Messages, 3)
		assert.Equal(t, "one", got.Messages[0].Text)
		assert.Equal(t, "two", got.Messages[1].Text)
		assert.Equal(t, "three", got.Messages[2].Text)
		assert.Equal(t, sess.Version, got.Version)
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		s := newStore(t)
		sess := newSession("s1", "2024-01-15", base, "one")
		require.NoError(t, s.Put(ctx, sess))

		sess.Append(chatsync.NewMessage(chatsync.SenderUser, "not stored", base.Add(time.Minute)))
		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, got.Messages, 1)
	})

	t.Run("put overwrites last write wins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newSession("s1", "2024-01-15", base, "old")))
		require.NoError(t, s.Put(ctx, newSession("s1", "2024-01-15", base, "new", "newer")))

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "new", got.Messages[0].Text)
	})

	t.Run("dates and sessions per date are ordered", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newSession("b", "2024-01-16", base.Add(48*time.Hour))))
		require.NoError(t, s.Put(ctx, newSession("late", "2024-01-15", base.Add(2*time.Hour))))
		require.NoError(t, s.Put(ctx, newSession("early", "2024-01-15", base)))

		dates, err := s.ListDates(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-15", "2024-01-16"}, dates)

		sessions, err := s.ListSessionsForDate(ctx, "2024-01-15")
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "early", sessions[0].ID)
		assert.Equal(t, "late", sessions[1].ID)

		empty, err := s.ListSessionsForDate(ctx, "2023-12-31")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("moving a session between dates updates buckets", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newSession("s1", "2024-01-15", base)))
		require.NoError(t, s.Put(ctx, newSession("s1", "2024-01-16", base)))

		dates, err := s.ListDates(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-16"}, dates)
	})

	t.Run("delete removes session and empty date", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newSession("s1", "2024-01-15", base)))
		require.NoError(t, s.Delete(ctx, "s1"))
		require.NoError(t, s.Delete(ctx, "s1"))

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, got)

		dates, err := s.ListDates(ctx)
		require.NoError(t, err)
		assert.Empty(t, dates)
	})

	t.Run("meta round trip and prefix listing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.GetMeta(ctx, "quota:guest")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetMeta(ctx, "history:2024-01-15", "a"))
		require.NoError(t, s.SetMeta(ctx, "history:2024-01-16", "b"))
		require.NoError(t, s.SetMeta(ctx, "quota:guest", "c"))

		v, ok, err := s.GetMeta(ctx, "quota:guest")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "c", v)

		legacy, err := s.ListMeta(ctx, "history:")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"history:2024-01-15": "a",
			"history:2024-01-16": "b",
		}, legacy)

		require.NoError(t, s.DeleteMeta(ctx, "quota:guest"))
		_, ok, err = s.GetMeta(ctx, "quota:guest")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, chatsync.ErrInvalidConfig)

	_, err = NewStore(StoreTypeSQLite)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore("leveldb")
	assert.ErrorIs(t, err, ErrInvalidStoreType)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	s, err = NewStore(StoreTypeSQLite, WithSQLitePath(filepath.Join(blocker, "sub", "chat.db")))
	assert.Error(t, err)
	assert.Nil(t, s)
}
