// Package store persists the four durable collections — chats, messages,
// facts, and cached responses — in a single SQLite database. Each
// collection is stored as JSON documents in its own table so corruption in
// one never takes down the others: a row that fails to decode resets only
// its own collection.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"roundtable/internal/cache"
	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// Store is the SQLite-backed persistence layer. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the database at path, creating the parent directory and
// schema as needed.
func Open(path string) (*Store, error) {
	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreError("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreError("failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);

	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// resetCollection wipes one table after a decode failure. Only the broken
// collection is lost.
func (s *Store) resetCollection(table string, cause error) {
	logging.StoreError("collection %s is corrupt, resetting: %v", table, cause)
	if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
		logging.StoreError("failed to reset collection %s: %v", table, err)
	}
}

// ---------------------------------------------------------------------------
// Chats

// SaveChat inserts or updates a chat.
func (s *Store) SaveChat(c types.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO chats (id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		c.ID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

// Chats returns every chat, most recently updated first. A corrupt row
// resets the chats collection and returns nil.
func (s *Store) Chats() []types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT data FROM chats ORDER BY updated_at DESC")
	if err != nil {
		logging.StoreError("failed to read chats: %v", err)
		return nil
	}
	defer rows.Close()

	var out []types.Chat
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			logging.StoreError("failed to scan chat row: %v", err)
			return nil
		}
		var c types.Chat
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			rows.Close()
			s.resetCollection("chats", err)
			return nil
		}
		out = append(out, c)
	}
	return out
}

// DeleteChat removes a chat and its messages.
func (s *Store) DeleteChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM chats WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Messages

// Append persists one committed message.
func (s *Store) Append(m types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	_, err = s.db.Exec("INSERT INTO messages (id, chat_id, data) VALUES (?, ?, ?)",
		m.ID, m.ChatID, string(data))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of one chat in commit order.
// Rows are decoded through NormalizeMessage so documents written by older
// releases with alias field names still load. A row that cannot be decoded
// resets the messages collection and returns nil.
func (s *Store) Recent(chatID string, limit int) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT data FROM messages WHERE chat_id = ? ORDER BY rowid"
	rows, err := s.db.Query(query, chatID)
	if err != nil {
		logging.StoreError("failed to read messages: %v", err)
		return nil
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			logging.StoreError("failed to scan message row: %v", err)
			return nil
		}
		m, err := types.NormalizeMessage(json.RawMessage(data))
		if err != nil {
			rows.Close()
			s.resetCollection("messages", err)
			return nil
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ---------------------------------------------------------------------------
// Facts

// SaveFacts replaces the persisted fact set with the given snapshot. Wired
// to FactStore.OnChange so the table always mirrors live state.
func (s *Store) SaveFacts(facts []types.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin fact snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM facts"); err != nil {
		return fmt.Errorf("failed to clear facts: %w", err)
	}
	for _, f := range facts {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode fact: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO facts (id, data) VALUES (?, ?)", f.ID, string(data)); err != nil {
			return fmt.Errorf("failed to save fact: %w", err)
		}
	}
	return tx.Commit()
}

// Facts loads the persisted fact set. A corrupt row resets the facts
// collection and returns nil.
func (s *Store) Facts() []types.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT data FROM facts ORDER BY rowid")
	if err != nil {
		logging.StoreError("failed to read facts: %v", err)
		return nil
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			logging.StoreError("failed to scan fact row: %v", err)
			return nil
		}
		var f types.Fact
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			rows.Close()
			s.resetCollection("facts", err)
			return nil
		}
		out = append(out, f)
	}
	return out
}

// ---------------------------------------------------------------------------
// Response cache

// SaveCache replaces the persisted cache with the given snapshot. Wired to
// Cache.OnChange.
func (s *Store) SaveCache(entries map[string]cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}
	for key, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO cache_entries (key, data) VALUES (?, ?)", key, string(data)); err != nil {
			return fmt.Errorf("failed to save cache entry: %w", err)
		}
	}
	return tx.Commit()
}

// CacheEntries loads the persisted response cache. A corrupt row resets
// the cache collection and returns an empty map.
func (s *Store) CacheEntries() map[string]cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT key, data FROM cache_entries")
	if err != nil {
		logging.StoreError("failed to read cache entries: %v", err)
		return map[string]cache.Entry{}
	}
	defer rows.Close()

	out := make(map[string]cache.Entry)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			logging.StoreError("failed to scan cache row: %v", err)
			return map[string]cache.Entry{}
		}
		var e cache.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			rows.Close()
			s.resetCollection("cache_entries", err)
			return map[string]cache.Entry{}
		}
		out[key] = e
	}
	return out
}
