// Package localstore is the device-side copy of chat state. It mirrors the
// browser storage layout of the web client: the key "chatHistory_<username>"
// maps to the JSON-encoded array of chat-history records, and a chat id key
// maps to the JSON-encoded array of that chat's messages. Writes replace the
// whole collection; callers read-modify-write under their own locking.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const chatHistoryKeyPrefix = "chatHistory_"

// Store persists chat histories, messages and the push outbox in a single
// SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the local store at path (":memory:" for tests).
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path must be provided")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// One connection: writes are serialized anyway, and pooled connections
	// would each see a different ":memory:" database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			enqueued_at DATETIME NOT NULL,
			UNIQUE(chat_id, kind, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_chat ON outbox(chat_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate local store: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func historyKey(username string) string {
	return chatHistoryKeyPrefix + username
}

func (s *Store) getValue(key string) ([]byte, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *Store) setValue(key string, value []byte) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), now,
	)
	if err != nil {
		// Quota and I/O failures must reach the caller, never vanish.
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// GetMessages returns the chat's messages in insertion order. A chat with no
// stored entry yields an empty slice.
func (s *Store) GetMessages(chatID string) ([]models.Message, error) {
	raw, err := s.getValue(chatID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []models.Message{}, nil
	}
	var messages []models.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", chatID, err)
	}
	return messages, nil
}

// SaveMessages replaces the chat's full message list.
func (s *Store) SaveMessages(chatID string, messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages for %s: %w", chatID, err)
	}
	return s.setValue(chatID, raw)
}

// RemoveMessages deletes the chat's message entry.
func (s *Store) RemoveMessages(chatID string) error {
	if _, err := s.db.Exec(`DELETE FROM kv_entries WHERE key = ?`, chatID); err != nil {
		return fmt.Errorf("remove messages for %s: %w", chatID, err)
	}
	return nil
}

// GetChatHistory returns the user's chat-history records, most recently
// updated first.
func (s *Store) GetChatHistory(username string) ([]models.ChatHistoryRecord, error) {
	raw, err := s.getValue(historyKey(username))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []models.ChatHistoryRecord{}, nil
	}
	var records []models.ChatHistoryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode chat history for %s: %w", username, err)
	}
	return records, nil
}

// SaveChatHistory replaces the user's full chat-history list.
func (s *Store) SaveChatHistory(username string, records []models.ChatHistoryRecord) error {
	if records == nil {
		records = []models.ChatHistoryRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode chat history for %s: %w", username, err)
	}
	return s.setValue(historyKey(username), raw)
}
