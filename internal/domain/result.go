package domain

import "encoding/json"

// PollResult is the single outcome produced for one submitted question.
type PollResult struct {
	Success        bool    `json:"success"`
	Response       string  `json:"response"`
	SQLQuery       string  `json:"sql_query,omitempty"`
	FollowUp       string  `json:"followup,omitempty"`
	Error          string  `json:"error,omitempty"`
	Warning        string  `json:"warning,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ConversationID string  `json:"conversation_id,omitempty"`
	MessageID      string  `json:"message_id,omitempty"`
}

// Column describes one column of a tabular query result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is either tabular data or an error description, never both.
type QueryResult struct {
	Columns   []Column
	Rows      [][]any
	TotalRows int64
	Error     string
}

// MarshalJSON emits {"error": ...} for failures and {"columns", "rows", "total_rows"}
// otherwise, with empty arrays rather than null.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: r.Error})
	}
	columns := r.Columns
	if columns == nil {
		columns = []Column{}
	}
	rows := r.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return json.Marshal(struct {
		Columns   []Column `json:"columns"`
		Rows      [][]any  `json:"rows"`
		TotalRows int64    `json:"total_rows"`
	}{Columns: columns, Rows: rows, TotalRows: r.TotalRows})
}

// StatementResponse is the normalized statement-execution payload behind a query attachment.
type StatementResponse struct {
	StatementID   string
	State         string
	StateError    string
	HasManifest   bool
	Columns       []Column
	TotalRowCount int64
	HasTotalRows  bool
	HasData       bool
	Rows          [][]any
}
