package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundtable/internal/cache"
	"roundtable/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roundtable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChats_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := types.NewChat("planning session")
	require.NoError(t, s.SaveChat(c))

	got := s.Chats()
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, "planning session", got[0].Title)

	c.Title = "renamed"
	require.NoError(t, s.SaveChat(c))
	got = s.Chats()
	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Title)
}

func TestDeleteChat_RemovesMessages(t *testing.T) {
	s := openTestStore(t)

	c := types.NewChat("temp")
	require.NoError(t, s.SaveChat(c))
	require.NoError(t, s.Append(types.NewMessage(c.ID, types.RoleUser, "user", "hello")))
	require.NoError(t, s.Append(types.NewMessage("other-chat", types.RoleUser, "user", "keep me")))

	require.NoError(t, s.DeleteChat(c.ID))

	assert.Empty(t, s.Chats())
	assert.Empty(t, s.Recent(c.ID, 0))
	assert.Len(t, s.Recent("other-chat", 0), 1)
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.Append(types.NewMessage("chat-1", types.RoleUser, "user", text)))
	}

	all := s.Recent("chat-1", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "three", all[2].Content)

	tail := s.Recent("chat-1", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Content)
	assert.Equal(t, "three", tail[1].Content)
}

func TestRecent_DecodesLegacyFieldAliases(t *testing.T) {
	s := openTestStore(t)

	legacy := `{"id":"m1","chatId":"chat-1","role":"user","sender":"user","content":"old doc","timestamp":"2024-01-02T03:04:05Z"}`
	_, err := s.db.Exec("INSERT INTO messages (id, chat_id, data) VALUES (?, ?, ?)", "m1", "chat-1", legacy)
	require.NoError(t, err)

	got := s.Recent("chat-1", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "chat-1", got[0].ChatID)
	assert.Equal(t, "old doc", got[0].Content)
	assert.Equal(t, 2024, got[0].CreatedAt.Year())
}

func TestCorruptCollection_ResetsOnlyItself(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat(types.NewChat("survivor")))
	require.NoError(t, s.Append(types.NewMessage("chat-1", types.RoleUser, "user", "fine")))
	_, err := s.db.Exec("INSERT INTO messages (id, chat_id, data) VALUES (?, ?, ?)", "bad", "chat-1", "{not json")
	require.NoError(t, err)

	assert.Nil(t, s.Recent("chat-1", 0), "corrupt row empties the collection")
	assert.Empty(t, s.Recent("chat-1", 0), "reset is durable")
	assert.Len(t, s.Chats(), 1, "other collections are untouched")
}

func TestFacts_SnapshotReplace(t *testing.T) {
	s := openTestStore(t)

	f1 := types.NewFact(types.FactPreference, "user", "user prefers dark mode", 0.8)
	f2 := types.NewFact(types.FactProfile, "user", "user is using Go", 0.75)
	require.NoError(t, s.SaveFacts([]types.Fact{f1, f2}))
	require.Len(t, s.Facts(), 2)

	require.NoError(t, s.SaveFacts([]types.Fact{f2}))
	got := s.Facts()
	require.Len(t, got, 1)
	assert.Equal(t, f2.ID, got[0].ID)
}

func TestFacts_CorruptRowResets(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveFacts([]types.Fact{types.NewFact(types.FactRule, "user", "user's rule: always test", 0.9)}))
	_, err := s.db.Exec("INSERT INTO facts (id, data) VALUES (?, ?)", "bad", "][")
	require.NoError(t, err)

	assert.Nil(t, s.Facts())
	assert.Empty(t, s.Facts())
}

func TestCache_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := cache.New(nil)
	msg := types.NewMessage("chat-1", types.RoleAssistant, "Alice", "cached reply")
	key := cache.Key("a1", "what is 2+2")
	require.NoError(t, c.Set(key, msg, 60))

	require.NoError(t, s.SaveCache(c.Snapshot()))
	loaded := s.CacheEntries()
	require.Len(t, loaded, 1)

	restored := cache.New(loaded)
	got, ok := restored.Get(key)
	require.True(t, ok)
	assert.Equal(t, "cached reply", got.Content)
}

func TestCache_CorruptRowResets(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec("INSERT INTO cache_entries (key, data) VALUES (?, ?)", "k", "nope")
	require.NoError(t, err)

	assert.Empty(t, s.CacheEntries())

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "db.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(types.NewMessage("chat-1", types.RoleUser, "user", "hi")))
	assert.Len(t, s.Recent("chat-1", 0), 1)
}
