package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatsync/internal/localstore"
	"chatsync/internal/models"
)

type stubTitles struct {
	title string
	err   error
	calls int
}

func (s *stubTitles) GenerateTitle(ctx context.Context, content string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.title != "" {
		return s.title, nil
	}
	return "Title: " + content, nil
}

type stubPuller struct {
	err   error
	calls int
}

func (s *stubPuller) SyncChatHistories(ctx context.Context, username string) error {
	s.calls++
	return s.err
}

func mintChatID(t *testing.T, m *HistoryManager, username, profileName string) models.ChatID {
	t.Helper()
	id, err := m.GenerateChatID(username, profileName)
	if err != nil {
		t.Fatalf("generate chat id: %v", err)
	}
	return id
}

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedChat(t *testing.T, store *localstore.Store, chatID models.ChatID, contents ...string) {
	t.Helper()
	now := time.Now().UTC()
	messages := make([]models.Message, 0, len(contents))
	for i, content := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		messages = append(messages, models.Message{
			MessageID: chatID.Suffix + "-m" + string(rune('0'+i)),
			Role:      role,
			Content:   content,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := store.SaveMessages(chatID.String(), messages); err != nil {
		t.Fatalf("seed messages: %v", err)
	}
}

func TestGenerateChatIDShape(t *testing.T) {
	m := NewHistoryManager(newTestStore(t), nil, nil)
	id := mintChatID(t, m, "alice", "Writer")
	if !strings.HasPrefix(id.String(), "alice_Writer_") {
		t.Fatalf("unexpected chat id %q", id)
	}
	if id.Suffix == "" {
		t.Fatal("chat id needs a unique suffix")
	}
	other := mintChatID(t, m, "alice", "Writer")
	if id.String() == other.String() {
		t.Fatal("chat ids must not collide")
	}

	// Fields that would mis-split the wire form are rejected up front.
	if _, err := m.GenerateChatID("a_b", "Writer"); err == nil {
		t.Fatal("expected error for username with underscore")
	}
	if _, err := m.GenerateChatID("alice", "Power_User"); err == nil {
		t.Fatal("expected error for profile name with underscore")
	}
}

func TestCreateChatHistoryFromFirstMessage(t *testing.T) {
	store := newTestStore(t)
	titles := &stubTitles{}
	m := NewHistoryManager(store, titles, nil)
	events := m.Subscribe()

	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "How do tides work?", "They follow the moon.")

	record, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create chat history: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}
	if record.Title != "Title: How do tides work?" {
		t.Fatalf("title must come from the first message, got %q", record.Title)
	}
	if record.ProfileName != "Writer" {
		t.Fatalf("unexpected profile name %q", record.ProfileName)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		t.Fatal("timestamps must be set")
	}

	list, err := m.ChatHistory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(list) != 1 || list[0].ID != chatID.String() {
		t.Fatalf("unexpected list: %#v", list)
	}

	select {
	case event := <-events:
		if event.Action != models.HistoryCreated || event.Record.ID != chatID.String() {
			t.Fatalf("unexpected event %#v", event)
		}
	default:
		t.Fatal("expected a create event")
	}
}

func TestCreateChatHistoryEmptyChat(t *testing.T) {
	m := NewHistoryManager(newTestStore(t), &stubTitles{}, nil)
	record, err := m.CreateChatHistory(context.Background(), mintChatID(t, m, "alice", "Writer"))
	if err != nil {
		t.Fatalf("create chat history: %v", err)
	}
	if record != nil {
		t.Fatalf("chat with no messages must yield no record, got %#v", record)
	}
}

func TestCreateChatHistoryExistingIsReturned(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "hello")

	first, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.Title != first.Title {
		t.Fatalf("repeated create must return the existing record, got %q vs %q", second.Title, first.Title)
	}
	list, _ := store.GetChatHistory("alice")
	if len(list) != 1 {
		t.Fatalf("repeated create must not duplicate, got %d records", len(list))
	}
}

func TestCreateChatHistoryPrependsNewest(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)

	older := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, older, "first chat")
	if _, err := m.CreateChatHistory(context.Background(), older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	newer := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, newer, "second chat")
	if _, err := m.CreateChatHistory(context.Background(), newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	list, _ := store.GetChatHistory("alice")
	if len(list) != 2 || list[0].ID != newer.String() {
		t.Fatalf("newest record must be first: %#v", list)
	}
}

func TestTitleFailureFallsBack(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{err: errors.New("model unavailable")}, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "hello")

	record, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Title != fallbackTitle {
		t.Fatalf("expected fallback title, got %q", record.Title)
	}
}

func TestNilTitleGeneratorFallsBack(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, nil, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "hello")

	record, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Title != fallbackTitle {
		t.Fatalf("expected fallback title, got %q", record.Title)
	}
}

func TestUpdateChatHistoryMissingCreates(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "original question")

	record, err := m.UpdateChatHistory(context.Background(), chatID, "ignored for create", time.Now().UTC())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record == nil || record.Title != "Title: original question" {
		t.Fatalf("missing record must fall back to create, got %#v", record)
	}
}

func TestUpdateChatHistoryRegeneratesTitle(t *testing.T) {
	store := newTestStore(t)
	titles := &stubTitles{}
	m := NewHistoryManager(store, titles, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "original question")
	if _, err := m.CreateChatHistory(context.Background(), chatID); err != nil {
		t.Fatalf("create: %v", err)
	}

	updatedAt := time.Now().UTC().Add(time.Minute)
	record, err := m.UpdateChatHistory(context.Background(), chatID, "edited question", updatedAt)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.Title != "Title: edited question" {
		t.Fatalf("expected regenerated title, got %q", record.Title)
	}
	if !record.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("expected cursor %v, got %v", updatedAt, record.UpdatedAt)
	}
}

func TestTouchChatHistory(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "hello")
	record, err := m.CreateChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := record.UpdatedAt.Add(time.Minute)
	if err := m.TouchChatHistory(chatID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	list, _ := store.GetChatHistory("alice")
	if !list[0].UpdatedAt.Equal(later) {
		t.Fatalf("touch must advance updatedAt, got %v", list[0].UpdatedAt)
	}
	if list[0].Title != record.Title {
		t.Fatal("touch must not change the title")
	}

	// An older timestamp never moves the cursor backward.
	if err := m.TouchChatHistory(chatID, record.UpdatedAt); err != nil {
		t.Fatalf("touch with older timestamp: %v", err)
	}
	list, _ = store.GetChatHistory("alice")
	if !list[0].UpdatedAt.Equal(later) {
		t.Fatalf("cursor moved backward to %v", list[0].UpdatedAt)
	}

	missing := mintChatID(t, m, "alice", "Writer")
	if err := m.TouchChatHistory(missing, later); err == nil {
		t.Fatal("touch of a missing record must error")
	}
}

func TestDeleteChatHistory(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)
	events := m.Subscribe()
	chatID := mintChatID(t, m, "alice", "Writer")
	seedChat(t, store, chatID, "hello", "hi")
	if _, err := m.CreateChatHistory(context.Background(), chatID); err != nil {
		t.Fatalf("create: %v", err)
	}
	<-events // drain the create event

	if err := m.DeleteChatHistory(chatID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := store.GetChatHistory("alice")
	if len(list) != 0 {
		t.Fatalf("record must be gone, got %#v", list)
	}
	msgs, _ := store.GetMessages(chatID.String())
	if len(msgs) != 0 {
		t.Fatalf("messages must be gone, got %d", len(msgs))
	}
	select {
	case event := <-events:
		if event.Action != models.HistoryDeleted {
			t.Fatalf("unexpected event %#v", event)
		}
	default:
		t.Fatal("expected a delete event")
	}

	// Deleting an unknown chat is a no-op.
	if err := m.DeleteChatHistory(chatID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestChatHistoryDegradesToLocalOnPullFailure(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveChatHistory("alice", []models.ChatHistoryRecord{
		{ID: "alice_Writer_stale", Title: "Stale but served"},
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	puller := &stubPuller{err: errors.New("network down")}
	m := NewHistoryManager(store, &stubTitles{}, puller)

	list, err := m.ChatHistory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if puller.calls != 1 {
		t.Fatalf("expected one pull attempt, got %d", puller.calls)
	}
	if len(list) != 1 || list[0].Title != "Stale but served" {
		t.Fatalf("expected local copy, got %#v", list)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := newTestStore(t)
	m := NewHistoryManager(store, &stubTitles{}, nil)
	events := m.Subscribe()
	m.Unsubscribe(events)
	if _, open := <-events; open {
		t.Fatal("unsubscribed channel must be closed")
	}
}
