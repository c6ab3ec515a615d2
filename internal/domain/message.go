package domain

import "time"

// Message is a single question/answer exchange inside a Genie conversation,
// normalized from whatever shape the backend returned.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	Status         string
	Error          string
	Attachments    []Attachment
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Raw is a best-effort plain-text rendering of the payload, set alongside Anomaly.
	Raw string
	// Anomaly describes structure the adapter could not map; empty when the payload was well formed.
	Anomaly string
}

// Attachment carries either a generated query with its explanation or free commentary.
type Attachment struct {
	ID               string
	Query            string
	QueryDescription string
	StatementID      string
	Text             string
}

// HasQuery reports whether the attachment carries generated SQL.
func (a Attachment) HasQuery() bool {
	return a.Query != ""
}
