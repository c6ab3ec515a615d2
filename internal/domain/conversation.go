package domain

import "time"

// ConversationSummary is a conversation as listed for a Genie space.
type ConversationSummary struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ConversationEntry is one rendered turn of a conversation transcript.
type ConversationEntry struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	SQLQuery  string     `json:"sql_query,omitempty"`
	FollowUp  string     `json:"followup,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// StartedConversation identifies the conversation and first message created by a new question.
type StartedConversation struct {
	ConversationID string
	MessageID      string
}

// Ownership records that a user started (and may keep using) a conversation.
type Ownership struct {
	UserID         string
	ConversationID string
	Title          string
	CreatedAt      string
	LastActivity   string
}
