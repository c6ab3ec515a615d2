package genie

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"genie-chat/internal/domain"
)

// The adapter maps every response shape the Genie API has been seen to return
// onto domain types. Nothing past this file looks at raw JSON.

func parse(raw []byte, kind string) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("genie: decode %s: invalid JSON", kind)
	}
	return gjson.ParseBytes(raw), nil
}

func decodeStarted(raw []byte) (domain.StartedConversation, error) {
	doc, err := parse(raw, "start-conversation response")
	if err != nil {
		return domain.StartedConversation{}, err
	}
	started := domain.StartedConversation{
		ConversationID: firstString(doc, "conversation_id", "conversation.conversation_id", "conversation.id", "message.conversation_id"),
		MessageID:      firstString(doc, "message_id", "message.message_id", "message.id"),
	}
	if started.ConversationID == "" || started.MessageID == "" {
		return domain.StartedConversation{}, errors.New("genie: decode start-conversation response: missing conversation or message id")
	}
	return started, nil
}

func decodeMessage(raw []byte) (domain.Message, error) {
	doc, err := parse(raw, "message")
	if err != nil {
		return domain.Message{}, err
	}
	if !doc.IsObject() {
		return domain.Message{}, errors.New("genie: decode message: not an object")
	}
	return messageFrom(doc), nil
}

// decodeMessageList accepts {"messages": [...]} or a bare array.
func decodeMessageList(raw []byte) ([]domain.Message, string, error) {
	doc, err := parse(raw, "message list")
	if err != nil {
		return nil, "", err
	}
	items, next := listItems(doc, "messages")
	out := make([]domain.Message, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		out = append(out, messageFrom(item))
	}
	return out, next, nil
}

func decodeConversationList(raw []byte) ([]domain.ConversationSummary, string, error) {
	doc, err := parse(raw, "conversation list")
	if err != nil {
		return nil, "", err
	}
	items, next := listItems(doc, "conversations")
	out := make([]domain.ConversationSummary, 0, len(items))
	for _, item := range items {
		id := firstString(item, "conversation_id", "id")
		if id == "" {
			continue
		}
		title := item.Get("title").String()
		if title == "" {
			title = "Untitled"
		}
		out = append(out, domain.ConversationSummary{
			ID:        id,
			Title:     title,
			CreatedAt: optionalTime(item.Get("created_timestamp")),
			UpdatedAt: optionalTime(item.Get("last_updated_timestamp")),
		})
	}
	return out, next, nil
}

// decodeQueryResult returns nil when the payload carries no statement_response.
func decodeQueryResult(raw []byte) (*domain.StatementResponse, error) {
	doc, err := parse(raw, "query result")
	if err != nil {
		return nil, err
	}
	stmt := doc.Get("statement_response")
	if !stmt.IsObject() {
		return nil, nil
	}
	out := statementFrom(stmt)
	return &out, nil
}

func decodeStatement(raw []byte) (domain.StatementResponse, error) {
	doc, err := parse(raw, "statement")
	if err != nil {
		return domain.StatementResponse{}, err
	}
	return statementFrom(doc), nil
}

func listItems(doc gjson.Result, key string) ([]gjson.Result, string) {
	if doc.IsArray() {
		return doc.Array(), ""
	}
	return doc.Get(key).Array(), doc.Get("next_page_token").String()
}

func messageFrom(m gjson.Result) domain.Message {
	msg := domain.Message{
		ID:             firstString(m, "message_id", "id"),
		ConversationID: m.Get("conversation_id").String(),
		Content:        m.Get("content").String(),
		Status:         statusFrom(m.Get("status")),
		Error:          errorFrom(m.Get("error")),
		CreatedAt:      epochMillis(m.Get("created_timestamp")),
		UpdatedAt:      epochMillis(m.Get("last_updated_timestamp")),
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	atts := m.Get("attachments")
	if !atts.Exists() || atts.Type == gjson.Null {
		return msg
	}
	if !atts.IsArray() {
		return withAnomaly(msg, atts, "attachments is not a list")
	}
	for i, a := range atts.Array() {
		att, problem := attachmentFrom(a)
		if problem != "" {
			return withAnomaly(msg, atts, fmt.Sprintf("attachment %d: %s", i, problem))
		}
		if att.HasQuery() || att.Text != "" {
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	return msg
}

func attachmentFrom(a gjson.Result) (domain.Attachment, string) {
	if !a.IsObject() {
		return domain.Attachment{}, "not an object"
	}
	att := domain.Attachment{ID: firstString(a, "attachment_id", "id")}

	switch q := a.Get("query"); {
	case !q.Exists() || q.Type == gjson.Null:
	case q.IsObject():
		att.Query = q.Get("query").String()
		att.QueryDescription = q.Get("description").String()
		att.StatementID = q.Get("statement_id").String()
	case q.Type == gjson.String:
		att.Query = q.String()
	default:
		return domain.Attachment{}, "query has unexpected type " + q.Type.String()
	}

	switch t := a.Get("text"); {
	case !t.Exists() || t.Type == gjson.Null:
	case t.IsObject():
		c := t.Get("content")
		if c.Exists() && c.Type != gjson.String && c.Type != gjson.Null {
			return domain.Attachment{}, "text content has unexpected type " + c.Type.String()
		}
		att.Text = c.String()
	case t.Type == gjson.String:
		att.Text = t.String()
	default:
		return domain.Attachment{}, "text has unexpected type " + t.Type.String()
	}
	return att, ""
}

// withAnomaly drops the partially mapped attachments and keeps whatever text
// can still be found in the payload.
func withAnomaly(msg domain.Message, atts gjson.Result, problem string) domain.Message {
	msg.Attachments = nil
	msg.Anomaly = problem
	var parts []string
	collectText(atts, &parts)
	if len(parts) == 0 {
		msg.Raw = atts.Raw
	} else {
		msg.Raw = strings.Join(parts, "\n")
	}
	return msg
}

func collectText(r gjson.Result, parts *[]string) {
	r.ForEach(func(key, value gjson.Result) bool {
		switch {
		case value.IsObject() || value.IsArray():
			collectText(value, parts)
		case value.Type == gjson.String && (key.String() == "content" || key.String() == "text" || r.IsArray()):
			if s := strings.TrimSpace(value.String()); s != "" {
				*parts = append(*parts, s)
			}
		}
		return true
	})
}

func statusFrom(s gjson.Result) string {
	if s.IsObject() {
		return firstString(s, "value", "state")
	}
	return s.String()
}

func errorFrom(e gjson.Result) string {
	if e.IsObject() {
		return firstString(e, "error", "message")
	}
	if e.Type == gjson.String {
		return e.String()
	}
	return ""
}

func statementFrom(s gjson.Result) domain.StatementResponse {
	out := domain.StatementResponse{
		StatementID: s.Get("statement_id").String(),
		State:       statusFrom(s.Get("status.state")),
		StateError:  errorFrom(s.Get("status.error")),
	}

	manifest := s.Get("manifest")
	if manifest.IsObject() {
		out.HasManifest = true
		for _, c := range manifest.Get("schema.columns").Array() {
			typ := c.Get("type_name").String()
			if typ == "" {
				typ = "STRING"
			}
			out.Columns = append(out.Columns, domain.Column{Name: c.Get("name").String(), Type: typ})
		}
		if total := manifest.Get("total_row_count"); total.Exists() && total.Type != gjson.Null {
			out.HasTotalRows = true
			out.TotalRowCount = total.Int()
		}
	}

	data := s.Get("result.data_array")
	if data.IsArray() {
		out.HasData = true
		rows := data.Array()
		out.Rows = make([][]any, 0, len(rows))
		for _, row := range rows {
			cells := row.Array()
			values := make([]any, 0, len(cells))
			for _, cell := range cells {
				values = append(values, cell.Value())
			}
			out.Rows = append(out.Rows, values)
		}
	}
	return out
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// epochMillis accepts numbers or numeric strings.
func epochMillis(r gjson.Result) time.Time {
	if !r.Exists() || r.Type == gjson.Null {
		return time.Time{}
	}
	ms := r.Int()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalTime(r gjson.Result) *time.Time {
	t := epochMillis(r)
	if t.IsZero() {
		return nil
	}
	return &t
}
