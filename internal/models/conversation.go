package models

import "time"

// Conversation groups an ordered sequence of chat messages. Each
// conversation belongs to exactly one user; every query against it must
// filter by user_id.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is a conversation annotated with its message count,
// used by list endpoints.
type ConversationSummary struct {
	Conversation
	MessageCount int `json:"message_count"`
}
