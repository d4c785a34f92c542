package models

import "time"

// Message is a single conversation entry stored per chat.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	MessageID string    `json:"messageId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Deleted marks a tombstone: the remote store returns deleted messages
	// in delta pulls so clients can drop their local copies.
	Deleted bool `json:"deleted,omitempty"`
}
