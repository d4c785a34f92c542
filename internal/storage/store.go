package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatsync/internal/models"
)

// Store provides chat-history and message CRUD over the shared database.
type Store struct {
	db *sql.DB
}

// NewStore builds a store around an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListChatHistories returns the user's records. With a since cursor it
// returns every row (tombstones included) with updated_at strictly newer;
// without one it returns all live records, most recently updated first.
func (s *Store) ListChatHistories(ctx context.Context, username string, since *time.Time) ([]models.ChatHistoryRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, title, profile_name, created_at, updated_at, deleted
			 FROM chat_histories WHERE username = ? AND deleted = 0
			 ORDER BY updated_at DESC`, username)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, title, profile_name, created_at, updated_at, deleted
			 FROM chat_histories WHERE username = ? AND updated_at > ?
			 ORDER BY updated_at DESC`, username, since.UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("list chat histories: %w", err)
	}
	defer rows.Close()

	var records []models.ChatHistoryRecord
	for rows.Next() {
		var rec models.ChatHistoryRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.ProfileName, &rec.CreatedAt, &rec.UpdatedAt, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertChatHistory creates or replaces a record by id. Upserting a
// tombstoned record resurrects it.
func (s *Store) UpsertChatHistory(ctx context.Context, rec models.ChatHistoryRecord) (models.ChatHistoryRecord, error) {
	chatID, err := models.ParseChatID(rec.ID)
	if err != nil {
		return models.ChatHistoryRecord{}, err
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	rec.Deleted = false

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_histories SET title = ?, updated_at = ?, deleted = 0 WHERE id = ?`,
		rec.Title, rec.UpdatedAt.UTC(), rec.ID)
	if err != nil {
		return models.ChatHistoryRecord{}, fmt.Errorf("update chat history: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.ChatHistoryRecord{}, fmt.Errorf("chat history rows affected: %w", err)
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chat_histories (id, username, title, profile_name, created_at, updated_at, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			rec.ID, chatID.Username, rec.Title, chatID.ProfileName, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			return models.ChatHistoryRecord{}, fmt.Errorf("insert chat history: %w", err)
		}
		rec.ProfileName = chatID.ProfileName
	}
	return rec, nil
}

// DeleteChatHistory tombstones a record and cascades to its messages.
// Deleting an unknown id is a no-op.
func (s *Store) DeleteChatHistory(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE chat_histories SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`, now, id); err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE messages SET deleted = 1, updated_at = ? WHERE chat_id = ? AND deleted = 0`, now, id); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat history: %w", err)
	}
	return nil
}

// ListMessages returns the chat's messages in insertion order. With a since
// cursor it includes tombstones and rows at or after the cursor: the cursor
// is the chat record's updatedAt, which moves in lockstep with the newest
// message, so a strictly-newer comparison would drop that message. Clients
// dedupe by messageId.
func (s *Store) ListMessages(ctx context.Context, chatID string, since *time.Time) ([]models.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT message_id, role, content, is_active, created_at, updated_at, deleted
			 FROM messages WHERE chat_id = ? AND deleted = 0 ORDER BY seq ASC`, chatID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT message_id, role, content, is_active, created_at, updated_at, deleted
			 FROM messages WHERE chat_id = ? AND updated_at >= ? ORDER BY seq ASC`, chatID, since.UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.MessageID, &msg.Role, &msg.Content, &msg.IsActive, &msg.CreatedAt, &msg.UpdatedAt, &msg.Deleted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpsertMessage stores a message under the chat, keyed by (chatID,
// messageId) so a replayed create cannot duplicate.
func (s *Store) UpsertMessage(ctx context.Context, chatID string, msg models.Message) (models.Message, error) {
	if msg.MessageID == "" {
		return models.Message{}, fmt.Errorf("messageId is required")
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}
	msg.Deleted = false

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET role = ?, content = ?, is_active = ?, updated_at = ?, deleted = 0
		 WHERE chat_id = ? AND message_id = ?`,
		msg.Role, msg.Content, msg.IsActive, msg.UpdatedAt.UTC(), chatID, msg.MessageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO messages (chat_id, message_id, role, content, is_active, created_at, updated_at, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
			chatID, msg.MessageID, msg.Role, msg.Content, msg.IsActive, msg.CreatedAt.UTC(), msg.UpdatedAt.UTC())
		if err != nil {
			return models.Message{}, fmt.Errorf("insert message: %w", err)
		}
	}
	return msg, nil
}

// UpdateMessage replaces an existing message's mutable fields.
func (s *Store) UpdateMessage(ctx context.Context, chatID, messageID string, msg models.Message) (models.Message, error) {
	now := time.Now().UTC()
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, is_active = ?, updated_at = ?
		 WHERE chat_id = ? AND message_id = ? AND deleted = 0`,
		msg.Content, msg.IsActive, msg.UpdatedAt.UTC(), chatID, messageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return models.Message{}, sql.ErrNoRows
	}
	msg.MessageID = messageID
	return msg, nil
}

// DeleteMessage tombstones a single message. Unknown ids are a no-op.
func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted = 1, updated_at = ? WHERE chat_id = ? AND message_id = ? AND deleted = 0`,
		now, chatID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
