package localstore

import (
	"database/sql"
	"fmt"
	"time"
)

// OpKind names a pending push operation.
type OpKind string

const (
	OpMessageCreate OpKind = "message.create"
	OpMessageUpdate OpKind = "message.update"
	OpMessageDelete OpKind = "message.delete"
	OpHistoryUpsert OpKind = "history.upsert"
	OpHistoryDelete OpKind = "history.delete"
)

// Operation is one durable outbox entry. Operations for a chat are delivered
// in id order; the (chat_id, kind, message_id) key coalesces repeated writes
// of the same logical mutation so a replayed enqueue cannot double-push.
type Operation struct {
	ID         int64
	ChatID     string
	Kind       OpKind
	MessageID  string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// EnqueueOperation records a push operation, replacing any still-pending
// operation with the same identity.
func (s *Store) EnqueueOperation(op Operation) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO outbox (chat_id, kind, message_id, payload, attempts, enqueued_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(chat_id, kind, message_id) DO UPDATE SET
			payload = excluded.payload,
			attempts = 0,
			enqueued_at = excluded.enqueued_at`,
		op.ChatID, string(op.Kind), op.MessageID, string(op.Payload), now,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", op.Kind, op.ChatID, err)
	}
	return nil
}

// NextOperation returns the oldest pending operation for the chat, or nil.
func (s *Store) NextOperation(chatID string) (*Operation, error) {
	row := s.db.QueryRow(
		`SELECT id, chat_id, kind, message_id, payload, attempts, enqueued_at
		 FROM outbox WHERE chat_id = ? ORDER BY id ASC LIMIT 1`, chatID)
	var op Operation
	var kind, payload string
	err := row.Scan(&op.ID, &op.ChatID, &kind, &op.MessageID, &payload, &op.Attempts, &op.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next operation for %s: %w", chatID, err)
	}
	op.Kind = OpKind(kind)
	op.Payload = []byte(payload)
	return &op, nil
}

// CompleteOperation removes a delivered (or permanently rejected) operation.
func (s *Store) CompleteOperation(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete operation %d: %w", id, err)
	}
	return nil
}

// FailOperation bumps the attempt counter after a retryable failure.
func (s *Store) FailOperation(id int64) error {
	if _, err := s.db.Exec(`UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("fail operation %d: %w", id, err)
	}
	return nil
}

// PendingChats lists chats that still have queued operations, oldest first.
func (s *Store) PendingChats() ([]string, error) {
	rows, err := s.db.Query(`SELECT chat_id FROM outbox GROUP BY chat_id ORDER BY MIN(id) ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending chats: %w", err)
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("scan pending chat: %w", err)
		}
		chats = append(chats, chatID)
	}
	return chats, rows.Err()
}

// PendingCount reports how many operations remain queued for the chat.
// An empty chat id counts the whole outbox.
func (s *Store) PendingCount(chatID string) (int, error) {
	var count int
	var err error
	if chatID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE chat_id = ?`, chatID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return count, nil
}
