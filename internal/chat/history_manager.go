// Package chat owns the user-facing conversation state: the chat-history
// list and the per-chat message window. Managers mutate memory and the local
// store first; remote propagation rides on the sync engine.
package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"chatsync/internal/localstore"
	"chatsync/internal/models"
)

// TitleGenerator produces a short chat title from the triggering message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, content string) (string, error)
}

// HistoryPuller refreshes the local history list from the remote store.
type HistoryPuller interface {
	SyncChatHistories(ctx context.Context, username string) error
}

const fallbackTitle = "New Conversation"

// HistoryManager owns the list of chat-history records for each user.
// Mutations are published to subscribers; the sync engine subscribes for
// remote propagation and the UI for rendering, so neither is called
// directly.
type HistoryManager struct {
	store  *localstore.Store
	titles TitleGenerator
	puller HistoryPuller

	mu   sync.Mutex
	subs []models.HistoryEventChan
}

// NewHistoryManager builds a manager. puller may be nil for offline use.
func NewHistoryManager(store *localstore.Store, titles TitleGenerator, puller HistoryPuller) *HistoryManager {
	return &HistoryManager{store: store, titles: titles, puller: puller}
}

// GenerateChatID mints a collision-free chat id for the user and profile.
func (m *HistoryManager) GenerateChatID(username, profileName string) (models.ChatID, error) {
	return models.NewChatID(username, profileName)
}

// Subscribe registers a channel receiving history change events. The channel
// is buffered; a subscriber that falls behind loses events rather than
// blocking mutations.
func (m *HistoryManager) Subscribe() models.HistoryEventChan {
	ch := make(models.HistoryEventChan, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (m *HistoryManager) Unsubscribe(ch models.HistoryEventChan) {
	m.mu.Lock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			break
		}
	}
	m.mu.Unlock()
}

func (m *HistoryManager) notify(action models.HistoryAction, record models.ChatHistoryRecord) {
	m.mu.Lock()
	subs := make([]models.HistoryEventChan, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	event := models.HistoryEvent{Action: action, Record: record}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			log.Printf("chat: dropping %s event for %s: subscriber not draining", action, record.ID)
		}
	}
}

// ChatHistory returns the user's records, refreshing from the remote store
// first. A failed pull degrades to the stale local copy.
func (m *HistoryManager) ChatHistory(ctx context.Context, username string) ([]models.ChatHistoryRecord, error) {
	if m.puller != nil {
		if err := m.puller.SyncChatHistories(ctx, username); err != nil {
			log.Printf("chat: history pull for %s failed, serving local copy: %v", username, err)
		}
	}
	return m.store.GetChatHistory(username)
}

// CreateChatHistory builds a record for a chat from its first message,
// prepends it to the user's list and emits a create event. A chat with no
// messages yields no record. Title generation failure falls back to a
// placeholder title; it never blocks persistence.
func (m *HistoryManager) CreateChatHistory(ctx context.Context, chatID models.ChatID) (*models.ChatHistoryRecord, error) {
	messages, err := m.store.GetMessages(chatID.String())
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	title := m.generateTitle(ctx, messages[0].Content)

	// The title call above may suspend; re-read the list before writing so a
	// concurrent mutation is not clobbered.
	m.mu.Lock()
	records, err := m.store.GetChatHistory(chatID.Username)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for i := range records {
		if records[i].ID == chatID.String() {
			rec := records[i]
			m.mu.Unlock()
			return &rec, nil
		}
	}
	now := time.Now().UTC()
	record := models.ChatHistoryRecord{
		ID:          chatID.String(),
		Title:       title,
		ProfileName: chatID.ProfileName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	records = append([]models.ChatHistoryRecord{record}, records...)
	if err := m.store.SaveChatHistory(chatID.Username, records); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.notify(models.HistoryCreated, record)
	return &record, nil
}

// UpdateChatHistory regenerates the record's title from messageContent and
// advances its cursor. A missing record falls back to create.
func (m *HistoryManager) UpdateChatHistory(ctx context.Context, chatID models.ChatID, messageContent string, updatedAt time.Time) (*models.ChatHistoryRecord, error) {
	if !m.exists(chatID) {
		return m.CreateChatHistory(ctx, chatID)
	}
	title := m.generateTitle(ctx, messageContent)

	record, err := m.mutateRecord(chatID, func(rec *models.ChatHistoryRecord) {
		rec.Title = title
		rec.UpdatedAt = updatedAt.UTC()
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Deleted between the title call and the write.
		return m.CreateChatHistory(ctx, chatID)
	}
	m.notify(models.HistoryUpdated, *record)
	return record, nil
}

// TouchChatHistory advances the record's updatedAt cursor without touching
// the title, e.g. when a new message arrives.
func (m *HistoryManager) TouchChatHistory(chatID models.ChatID, updatedAt time.Time) error {
	record, err := m.mutateRecord(chatID, func(rec *models.ChatHistoryRecord) {
		if updatedAt.After(rec.UpdatedAt) {
			rec.UpdatedAt = updatedAt.UTC()
		}
	})
	if err != nil {
		return err
	}
	if record == nil {
		return errors.New("chat history record not found: " + chatID.String())
	}
	m.notify(models.HistoryUpdated, *record)
	return nil
}

// DeleteChatHistory removes the record and its stored messages and emits a
// delete event.
func (m *HistoryManager) DeleteChatHistory(chatID models.ChatID) error {
	m.mu.Lock()
	records, err := m.store.GetChatHistory(chatID.Username)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var deleted *models.ChatHistoryRecord
	kept := records[:0]
	for i := range records {
		if records[i].ID == chatID.String() {
			rec := records[i]
			deleted = &rec
			continue
		}
		kept = append(kept, records[i])
	}
	if deleted == nil {
		m.mu.Unlock()
		return nil
	}
	if err := m.store.SaveChatHistory(chatID.Username, kept); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.RemoveMessages(chatID.String()); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.notify(models.HistoryDeleted, *deleted)
	return nil
}

func (m *HistoryManager) exists(chatID models.ChatID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, err := m.store.GetChatHistory(chatID.Username)
	if err != nil {
		return false
	}
	for i := range records {
		if records[i].ID == chatID.String() {
			return true
		}
	}
	return false
}

// mutateRecord applies fn to the chat's record under the manager lock,
// re-reading the list immediately before the write. Returns nil when the
// record does not exist.
func (m *HistoryManager) mutateRecord(chatID models.ChatID, fn func(*models.ChatHistoryRecord)) (*models.ChatHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.GetChatHistory(chatID.Username)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID != chatID.String() {
			continue
		}
		fn(&records[i])
		updated := records[i]
		if err := m.store.SaveChatHistory(chatID.Username, records); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, nil
}

func (m *HistoryManager) generateTitle(ctx context.Context, content string) string {
	if m.titles == nil {
		return fallbackTitle
	}
	title, err := m.titles.GenerateTitle(ctx, content)
	if err != nil || title == "" {
		if err != nil {
			log.Printf("chat: title generation failed: %v", err)
		}
		return fallbackTitle
	}
	return title
}
