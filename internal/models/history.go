package models

import "time"

// ChatHistoryRecord is the summary metadata for one conversation thread.
// UpdatedAt doubles as the sync cursor for delta pulls.
type ChatHistoryRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ProfileName string    `json:"profileName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	// Deleted marks a tombstone returned by delta pulls.
	Deleted bool `json:"deleted,omitempty"`
}

// HistoryAction names a mutation of the chat-history list.
type HistoryAction string

const (
	HistoryCreated HistoryAction = "create"
	HistoryUpdated HistoryAction = "update"
	HistoryDeleted HistoryAction = "delete"
)

// HistoryEvent is delivered to chat-history subscribers.
type HistoryEvent struct {
	Action HistoryAction
	Record ChatHistoryRecord
}

// HistoryEventChan is a helper channel type for history notifications.
type HistoryEventChan chan HistoryEvent
