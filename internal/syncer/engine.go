// Package syncer keeps the local store eventually consistent with the remote
// store. Reads pull remote deltas by timestamp cursor and merge them into the
// local copy (remote wins on conflict, tombstones propagate deletes); writes
// are queued in a durable outbox and pushed by one serial worker per chat so
// operations for a chat can never reorder and survive restarts.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"chatsync/internal/localstore"
	"chatsync/internal/models"
)

// RemoteStore is the subset of the remote client the engine consumes.
type RemoteStore interface {
	FetchChatHistories(ctx context.Context, username string, since time.Time) ([]models.ChatHistoryRecord, error)
	UpsertChatHistory(ctx context.Context, record models.ChatHistoryRecord) (models.ChatHistoryRecord, error)
	DeleteChatHistory(ctx context.Context, id string) error
	FetchMessages(ctx context.Context, chatID string, since time.Time) ([]models.Message, error)
	CreateMessage(ctx context.Context, chatID string, message models.Message) (models.Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID string, message models.Message) (models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	// RetryInterval is the backoff between failed push attempts.
	RetryInterval time.Duration
	// PushTimeout bounds a single push request.
	PushTimeout time.Duration
}

// Engine mediates between the local and remote stores.
type Engine struct {
	store  *localstore.Store
	remote RemoteStore

	retryInterval time.Duration
	pushTimeout   time.Duration

	pushers *pusherGroup
}

// NewEngine builds an engine and resumes pushing any operations left in the
// outbox by a previous run.
func NewEngine(store *localstore.Store, remote RemoteStore, opts Options) *Engine {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 30 * time.Second
	}
	e := &Engine{
		store:         store,
		remote:        remote,
		retryInterval: opts.RetryInterval,
		pushTimeout:   opts.PushTimeout,
	}
	e.pushers = newPusherGroup(e)

	chats, err := store.PendingChats()
	if err != nil {
		log.Printf("sync: resume outbox scan failed: %v", err)
		return e
	}
	for _, chatID := range chats {
		e.pushers.kick(chatID)
	}
	return e
}

// Close stops all pushers. Queued operations stay in the outbox and are
// resumed by the next engine.
func (e *Engine) Close() {
	e.pushers.stopAll()
}

// SyncChatHistories pulls remote history records newer than the newest local
// updatedAt and merges them into the local list. The merged list is ordered
// most recently updated first.
func (e *Engine) SyncChatHistories(ctx context.Context, username string) error {
	local, err := e.store.GetChatHistory(username)
	if err != nil {
		return err
	}
	var cursor time.Time
	for _, rec := range local {
		if rec.UpdatedAt.After(cursor) {
			cursor = rec.UpdatedAt
		}
	}

	delta, err := e.remote.FetchChatHistories(ctx, username, cursor)
	if err != nil {
		return fmt.Errorf("pull chat histories for %s: %w", username, err)
	}
	if len(delta) == 0 {
		return nil
	}

	byID := make(map[string]models.ChatHistoryRecord, len(delta))
	for _, rec := range delta {
		byID[rec.ID] = rec
	}

	merged := make([]models.ChatHistoryRecord, 0, len(local)+len(delta))
	for _, rec := range local {
		remote, ok := byID[rec.ID]
		if !ok {
			merged = append(merged, rec)
			continue
		}
		delete(byID, rec.ID)
		if remote.Deleted {
			// Tombstone: drop the record and cascade to its messages.
			if err := e.store.RemoveMessages(rec.ID); err != nil {
				return err
			}
			continue
		}
		merged = append(merged, remote)
	}
	for _, rec := range delta {
		remote, ok := byID[rec.ID]
		if !ok || remote.Deleted {
			continue
		}
		merged = append(merged, remote)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})

	return e.store.SaveChatHistory(username, merged)
}

// SyncMessages pulls remote messages at or after the chat's local updatedAt
// cursor and merges them by messageId, preserving local insertion order. The
// delta is inclusive at the cursor because the history record advances in
// lockstep with the newest message; the merge dedupes replayed rows.
func (e *Engine) SyncMessages(ctx context.Context, chatID string) error {
	cid, err := models.ParseChatID(chatID)
	if err != nil {
		return err
	}
	local, err := e.store.GetMessages(chatID)
	if err != nil {
		return err
	}

	// The history record's updatedAt is the pull cursor, but only once a
	// local copy exists: the record moves in step with the newest message, so
	// a strict-newer delta on an empty chat would skip everything.
	var cursor time.Time
	if len(local) > 0 {
		records, err := e.store.GetChatHistory(cid.Username)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.ID == chatID {
				cursor = rec.UpdatedAt
				break
			}
		}
	}

	delta, err := e.remote.FetchMessages(ctx, chatID, cursor)
	if err != nil {
		return fmt.Errorf("pull messages for %s: %w", chatID, err)
	}
	if len(delta) == 0 {
		return nil
	}

	byID := make(map[string]models.Message, len(delta))
	for _, msg := range delta {
		byID[msg.MessageID] = msg
	}

	merged := make([]models.Message, 0, len(local)+len(delta))
	for _, msg := range local {
		remote, ok := byID[msg.MessageID]
		if !ok {
			merged = append(merged, msg)
			continue
		}
		delete(byID, msg.MessageID)
		if remote.Deleted {
			continue
		}
		merged = append(merged, remote)
	}
	for _, msg := range delta {
		remote, ok := byID[msg.MessageID]
		if !ok || remote.Deleted {
			continue
		}
		merged = append(merged, remote)
	}

	return e.store.SaveMessages(chatID, merged)
}

// SyncMessageCreate queues a message create for push.
func (e *Engine) SyncMessageCreate(chatID string, message models.Message) {
	e.enqueue(chatID, localstore.OpMessageCreate, message.MessageID, message)
}

// SyncMessageUpdate queues a message update for push.
func (e *Engine) SyncMessageUpdate(chatID string, message models.Message) {
	e.enqueue(chatID, localstore.OpMessageUpdate, message.MessageID, message)
}

// SyncMessageDelete queues a message delete for push.
func (e *Engine) SyncMessageDelete(chatID, messageID string) {
	e.enqueue(chatID, localstore.OpMessageDelete, messageID, nil)
}

// SyncChatHistoryUpsert queues a history create-or-update for push.
func (e *Engine) SyncChatHistoryUpsert(record models.ChatHistoryRecord) {
	e.enqueue(record.ID, localstore.OpHistoryUpsert, "", record)
}

// SyncChatHistoryDelete queues a history delete for push.
func (e *Engine) SyncChatHistoryDelete(chatID string) {
	e.enqueue(chatID, localstore.OpHistoryDelete, "", nil)
}

func (e *Engine) enqueue(chatID string, kind localstore.OpKind, messageID string, payload interface{}) {
	raw := []byte("{}")
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			log.Printf("sync: encode %s payload for %s: %v", kind, chatID, err)
			return
		}
	}
	op := localstore.Operation{
		ChatID:    chatID,
		Kind:      kind,
		MessageID: messageID,
		Payload:   raw,
	}
	if err := e.store.EnqueueOperation(op); err != nil {
		// The local mutation already happened; all we can do is record the
		// loss. The next pull re-establishes consistency.
		log.Printf("sync: enqueue %s for %s failed: %v", kind, chatID, err)
		return
	}
	e.pushers.kick(chatID)
}

// ObserveHistory consumes chat-history change events and queues the matching
// remote pushes. This is how the engine subscribes to the history manager
// without the manager calling it directly.
func (e *Engine) ObserveHistory(events models.HistoryEventChan) {
	go func() {
		for event := range events {
			switch event.Action {
			case models.HistoryCreated, models.HistoryUpdated:
				e.SyncChatHistoryUpsert(event.Record)
			case models.HistoryDeleted:
				e.SyncChatHistoryDelete(event.Record.ID)
			}
		}
	}()
}

// Flush blocks until the outbox is empty or ctx expires.
func (e *Engine) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		count, err := e.store.PendingCount("")
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush outbox: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
