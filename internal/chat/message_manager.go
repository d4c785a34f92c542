package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chatsync/internal/localstore"
	"chatsync/internal/models"

	"github.com/google/uuid"
)

// MessageSyncer is the push/pull surface the message manager uses.
type MessageSyncer interface {
	SyncMessages(ctx context.Context, chatID string) error
	SyncMessageCreate(chatID string, message models.Message)
	SyncMessageUpdate(chatID string, message models.Message)
	SyncMessageDelete(chatID, messageID string)
}

// DefaultMessageWindow bounds how many trailing messages a chat loads.
const DefaultMessageWindow = 15

// MessageManager maintains the ordered message window of the current chat.
// The window is a trailing subsequence of the full local history; the
// isActive subset of the full history is what goes to the completion
// service as model context.
type MessageManager struct {
	store     *localstore.Store
	sync      MessageSyncer
	histories *HistoryManager
	window    int

	mu        sync.Mutex
	chatID    models.ChatID
	loaded    []models.Message
	followUps []string
}

// NewMessageManager builds a manager. windowSize <= 0 uses the default.
func NewMessageManager(store *localstore.Store, syncer MessageSyncer, histories *HistoryManager, windowSize int) *MessageManager {
	if windowSize <= 0 {
		windowSize = DefaultMessageWindow
	}
	return &MessageManager{
		store:     store,
		sync:      syncer,
		histories: histories,
		window:    windowSize,
	}
}

// CurrentChat returns the id of the open chat.
func (m *MessageManager) CurrentChat() models.ChatID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// OpenChat switches to the given chat, pulling remote messages first and
// loading the trailing window. A failed pull degrades to the local copy.
func (m *MessageManager) OpenChat(ctx context.Context, chatID models.ChatID) ([]models.Message, error) {
	if m.sync != nil {
		if err := m.sync.SyncMessages(ctx, chatID.String()); err != nil {
			log.Printf("chat: message pull for %s failed, serving local copy: %v", chatID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	full, err := m.store.GetMessages(chatID.String())
	if err != nil {
		return nil, err
	}
	start := 0
	if len(full) > m.window {
		start = len(full) - m.window
	}
	m.chatID = chatID
	m.loaded = append([]models.Message(nil), full[start:]...)
	m.followUps = nil
	return m.snapshotLocked(), nil
}

// Window returns a copy of the currently loaded messages.
func (m *MessageManager) Window() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *MessageManager) snapshotLocked() []models.Message {
	return append([]models.Message(nil), m.loaded...)
}

// LoadMoreMessages pages backward by one window from the oldest loaded
// message and returns the newly loaded slice.
func (m *MessageManager) LoadMoreMessages() ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	full, err := m.store.GetMessages(m.chatID.String())
	if err != nil {
		return nil, err
	}
	oldest := len(full) - len(m.loaded)
	if oldest <= 0 {
		return []models.Message{}, nil
	}
	start := oldest - m.window
	if start < 0 {
		start = 0
	}
	m.loaded = append(append([]models.Message(nil), full[start:oldest]...), m.loaded...)
	return append([]models.Message(nil), full[start:oldest]...), nil
}

// AddMessage appends a message to the open chat, persists it, queues the
// remote push and maintains the chat-history record (created on the first
// message, touched afterwards).
func (m *MessageManager) AddMessage(ctx context.Context, role models.Role, content string, isActive bool) (*models.Message, error) {
	now := time.Now().UTC()
	message := models.Message{
		MessageID: uuid.NewString(),
		Role:      role,
		Content:   content,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	chatID := m.chatID
	if chatID.IsZero() {
		m.mu.Unlock()
		return nil, fmt.Errorf("no chat open")
	}
	full, err := m.store.GetMessages(chatID.String())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	full = append(full, message)
	if err := m.store.SaveMessages(chatID.String(), full); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.loaded = append(m.loaded, message)
	m.followUps = nil
	first := len(full) == 1
	m.mu.Unlock()

	if m.sync != nil {
		m.sync.SyncMessageCreate(chatID.String(), message)
	}
	if m.histories != nil {
		if first {
			if _, err := m.histories.CreateChatHistory(ctx, chatID); err != nil {
				log.Printf("chat: create history for %s failed: %v", chatID, err)
			}
		} else if err := m.histories.TouchChatHistory(chatID, now); err != nil {
			log.Printf("chat: touch history for %s failed: %v", chatID, err)
		}
	}
	return &message, nil
}

// SetMessageActive flips a message's inclusion in the model context.
func (m *MessageManager) SetMessageActive(messageID string, active bool) error {
	message, chatID, err := m.mutateMessage(messageID, func(msg *models.Message) {
		msg.IsActive = active
		msg.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	if m.sync != nil {
		m.sync.SyncMessageUpdate(chatID.String(), *message)
	}
	return nil
}

// EditMessage replaces a message's content. Editing the first message also
// regenerates the chat title.
func (m *MessageManager) EditMessage(ctx context.Context, messageID, content string) error {
	now := time.Now().UTC()
	var first bool
	message, chatID, err := m.mutateMessageExt(messageID, func(msgs []models.Message, idx int) {
		msgs[idx].Content = content
		msgs[idx].UpdatedAt = now
		first = idx == 0
	})
	if err != nil {
		return err
	}
	if m.sync != nil {
		m.sync.SyncMessageUpdate(chatID.String(), *message)
	}
	if first && m.histories != nil {
		if _, err := m.histories.UpdateChatHistory(ctx, chatID, content, now); err != nil {
			log.Printf("chat: update history for %s failed: %v", chatID, err)
		}
	}
	return nil
}

// DeleteMessage removes a single message locally and remotely.
func (m *MessageManager) DeleteMessage(messageID string) error {
	m.mu.Lock()
	chatID := m.chatID
	full, err := m.store.GetMessages(chatID.String())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	kept := full[:0]
	found := false
	for i := range full {
		if full[i].MessageID == messageID {
			found = true
			continue
		}
		kept = append(kept, full[i])
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("message %s not found in %s", messageID, chatID)
	}
	if err := m.store.SaveMessages(chatID.String(), kept); err != nil {
		m.mu.Unlock()
		return err
	}
	for i := range m.loaded {
		if m.loaded[i].MessageID == messageID {
			m.loaded = append(m.loaded[:i], m.loaded[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if m.sync != nil {
		m.sync.SyncMessageDelete(chatID.String(), messageID)
	}
	return nil
}

// ActiveMessages returns the isActive subset of the full history, in order.
// This is the conversation context handed to the completion service.
func (m *MessageManager) ActiveMessages() ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	full, err := m.store.GetMessages(m.chatID.String())
	if err != nil {
		return nil, err
	}
	active := make([]models.Message, 0, len(full))
	for _, msg := range full {
		if msg.IsActive {
			active = append(active, msg)
		}
	}
	return active, nil
}

// SetFollowUpQuestions records suggested follow-ups for the current turn.
func (m *MessageManager) SetFollowUpQuestions(questions []string) {
	m.mu.Lock()
	m.followUps = append([]string(nil), questions...)
	m.mu.Unlock()
}

// FollowUpQuestions returns the pending suggestions.
func (m *MessageManager) FollowUpQuestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.followUps...)
}

// ClearFollowUpQuestions discards the pending suggestions.
func (m *MessageManager) ClearFollowUpQuestions() {
	m.mu.Lock()
	m.followUps = nil
	m.mu.Unlock()
}

// SplitTopic moves the given message and all its successors into a freshly
// generated chat for the same user and profile. Message identity is
// preserved: ids, contents, roles and timestamps move unchanged. The
// manager switches to the new chat.
func (m *MessageManager) SplitTopic(ctx context.Context, fromMessageID string) (models.ChatID, error) {
	m.mu.Lock()
	source := m.chatID
	full, err := m.store.GetMessages(source.String())
	if err != nil {
		m.mu.Unlock()
		return models.ChatID{}, err
	}
	idx := -1
	for i := range full {
		if full[i].MessageID == fromMessageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return models.ChatID{}, fmt.Errorf("message %s not found in %s", fromMessageID, source)
	}
	moved := append([]models.Message(nil), full[idx:]...)
	remaining := append([]models.Message(nil), full[:idx]...)

	dest, err := m.histories.GenerateChatID(source.Username, source.ProfileName)
	if err != nil {
		m.mu.Unlock()
		return models.ChatID{}, err
	}
	if err := m.store.SaveMessages(dest.String(), moved); err != nil {
		m.mu.Unlock()
		return models.ChatID{}, err
	}
	if err := m.store.SaveMessages(source.String(), remaining); err != nil {
		m.mu.Unlock()
		return models.ChatID{}, err
	}
	m.chatID = dest
	start := 0
	if len(moved) > m.window {
		start = len(moved) - m.window
	}
	m.loaded = append([]models.Message(nil), moved[start:]...)
	m.followUps = nil
	m.mu.Unlock()

	if m.sync != nil {
		for _, msg := range moved {
			m.sync.SyncMessageDelete(source.String(), msg.MessageID)
			m.sync.SyncMessageCreate(dest.String(), msg)
		}
	}
	if m.histories != nil {
		if _, err := m.histories.CreateChatHistory(ctx, dest); err != nil {
			log.Printf("chat: create history for %s failed: %v", dest, err)
		}
		if err := m.histories.TouchChatHistory(source, time.Now().UTC()); err != nil {
			log.Printf("chat: touch history for %s failed: %v", source, err)
		}
	}
	return dest, nil
}

// mutateMessage applies fn to one message in the full history and mirrors
// the change into the loaded window. The returned chat id is the chat that
// held the message at mutation time; pushes must target it, not whatever
// chat is current afterwards.
func (m *MessageManager) mutateMessage(messageID string, fn func(*models.Message)) (*models.Message, models.ChatID, error) {
	return m.mutateMessageExt(messageID, func(msgs []models.Message, idx int) {
		fn(&msgs[idx])
	})
}

func (m *MessageManager) mutateMessageExt(messageID string, fn func([]models.Message, int)) (*models.Message, models.ChatID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chatID := m.chatID
	full, err := m.store.GetMessages(chatID.String())
	if err != nil {
		return nil, chatID, err
	}
	for i := range full {
		if full[i].MessageID != messageID {
			continue
		}
		fn(full, i)
		if err := m.store.SaveMessages(chatID.String(), full); err != nil {
			return nil, chatID, err
		}
		updated := full[i]
		for j := range m.loaded {
			if m.loaded[j].MessageID == messageID {
				m.loaded[j] = updated
				break
			}
		}
		return &updated, chatID, nil
	}
	return nil, chatID, fmt.Errorf("message %s not found in %s", messageID, chatID)
}
