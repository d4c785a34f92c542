package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMessages(n int) []models.Message {
	now := time.Now().UTC().Truncate(time.Millisecond)
	messages := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		messages = append(messages, models.Message{
			MessageID: string(rune('a' + i)),
			Role:      role,
			Content:   "message content",
			IsActive:  true,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	return messages
}

func TestMessagesRoundTrip(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_1234"

	want := testMessages(5)
	if err := store.SaveMessages(chatID, want); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	got, err := store.GetMessages(chatID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].MessageID != want[i].MessageID {
			t.Fatalf("order not preserved at %d: want %s got %s", i, want[i].MessageID, got[i].MessageID)
		}
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content || got[i].IsActive != want[i].IsActive {
			t.Fatalf("fields not preserved at %d: %#v vs %#v", i, got[i], want[i])
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Fatalf("createdAt not preserved at %d", i)
		}
	}
}

func TestGetMessagesAbsentChat(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetMessages("bob_Coder_nope")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty sequence, got %d messages", len(got))
	}
}

func TestRemoveMessages(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_xyz"
	if err := store.SaveMessages(chatID, testMessages(3)); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	if err := store.RemoveMessages(chatID); err != nil {
		t.Fatalf("remove messages: %v", err)
	}
	got, err := store.GetMessages(chatID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty sequence after remove, got %d", len(got))
	}
}

func TestChatHistoryRoundTrip(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	want := []models.ChatHistoryRecord{
		{ID: "alice_Writer_2", Title: "Second", ProfileName: "Writer", CreatedAt: now, UpdatedAt: now.Add(time.Hour)},
		{ID: "alice_Writer_1", Title: "First", ProfileName: "Writer", CreatedAt: now, UpdatedAt: now},
	}
	if err := store.SaveChatHistory("alice", want); err != nil {
		t.Fatalf("save chat history: %v", err)
	}
	got, err := store.GetChatHistory("alice")
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(got) != 2 || got[0].ID != "alice_Writer_2" || got[1].Title != "First" {
		t.Fatalf("unexpected history: %#v", got)
	}

	other, err := store.GetChatHistory("bob")
	if err != nil {
		t.Fatalf("get chat history for other user: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty history for bob, got %d", len(other))
	}
}

func TestSaveMessagesOverwrites(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_ow"
	if err := store.SaveMessages(chatID, testMessages(5)); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	if err := store.SaveMessages(chatID, testMessages(2)); err != nil {
		t.Fatalf("overwrite messages: %v", err)
	}
	got, err := store.GetMessages(chatID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected whole-collection replace, got %d messages", len(got))
	}
}

func TestOutboxOrderingAndCompletion(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_ob"

	ops := []Operation{
		{ChatID: chatID, Kind: OpMessageCreate, MessageID: "m1", Payload: []byte(`{"messageId":"m1"}`)},
		{ChatID: chatID, Kind: OpMessageUpdate, MessageID: "m1", Payload: []byte(`{"messageId":"m1","content":"x"}`)},
		{ChatID: chatID, Kind: OpMessageDelete, MessageID: "m1", Payload: []byte(`{}`)},
	}
	for _, op := range ops {
		if err := store.EnqueueOperation(op); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for _, wantKind := range []OpKind{OpMessageCreate, OpMessageUpdate, OpMessageDelete} {
		op, err := store.NextOperation(chatID)
		if err != nil {
			t.Fatalf("next operation: %v", err)
		}
		if op == nil {
			t.Fatalf("expected pending operation of kind %s", wantKind)
		}
		if op.Kind != wantKind {
			t.Fatalf("expected %s, got %s", wantKind, op.Kind)
		}
		if err := store.CompleteOperation(op.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	op, err := store.NextOperation(chatID)
	if err != nil {
		t.Fatalf("next operation: %v", err)
	}
	if op != nil {
		t.Fatalf("expected drained outbox, got %#v", op)
	}
}

func TestOutboxCoalescesSameIdentity(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_co"

	first := Operation{ChatID: chatID, Kind: OpMessageUpdate, MessageID: "m1", Payload: []byte(`{"content":"v1"}`)}
	second := Operation{ChatID: chatID, Kind: OpMessageUpdate, MessageID: "m1", Payload: []byte(`{"content":"v2"}`)}
	if err := store.EnqueueOperation(first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.EnqueueOperation(second); err != nil {
		t.Fatalf("enqueue again: %v", err)
	}

	count, err := store.PendingCount(chatID)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected coalesced single operation, got %d", count)
	}
	op, err := store.NextOperation(chatID)
	if err != nil {
		t.Fatalf("next operation: %v", err)
	}
	if string(op.Payload) != `{"content":"v2"}` {
		t.Fatalf("expected newest payload to win, got %s", op.Payload)
	}
}

func TestOutboxFailBumpsAttempts(t *testing.T) {
	store := openTestStore(t)
	chatID := "alice_Writer_fa"
	if err := store.EnqueueOperation(Operation{ChatID: chatID, Kind: OpHistoryDelete, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	op, err := store.NextOperation(chatID)
	if err != nil {
		t.Fatalf("next operation: %v", err)
	}
	if err := store.FailOperation(op.ID); err != nil {
		t.Fatalf("fail operation: %v", err)
	}
	op, err = store.NextOperation(chatID)
	if err != nil {
		t.Fatalf("next operation after fail: %v", err)
	}
	if op.Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", op.Attempts)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.EnqueueOperation(Operation{ChatID: "alice_Writer_dur", Kind: OpMessageCreate, MessageID: "m1", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	chats, err := reopened.PendingChats()
	if err != nil {
		t.Fatalf("pending chats: %v", err)
	}
	if len(chats) != 1 || chats[0] != "alice_Writer_dur" {
		t.Fatalf("expected durable pending chat, got %v", chats)
	}
}
