package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"genie-chat/internal/domain"
	"genie-chat/internal/polling"
)

const (
	statementSucceeded = "SUCCEEDED"
	queryExecutedText  = "(Query executed)"
)

// GenieAPI is the Genie backend surface used by GenieService.
type GenieAPI interface {
	polling.Backend
	StartConversation(ctx context.Context, content string) (domain.StartedConversation, error)
	CreateMessage(ctx context.Context, conversationID, content string) (domain.Message, error)
	ListConversations(ctx context.Context) ([]domain.ConversationSummary, error)
	GetMessageQueryResult(ctx context.Context, conversationID, messageID string) (*domain.StatementResponse, error)
	GetStatement(ctx context.Context, statementID string) (domain.StatementResponse, error)
	SendFeedback(ctx context.Context, conversationID, messageID, rating string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// GenieService runs questions against one Genie space and reads back
// conversations, transcripts and query data. Every remote call goes through
// the engine's retry policy.
type GenieService struct {
	api    GenieAPI
	engine *polling.Engine
	log    *slog.Logger
}

func NewGenieService(api GenieAPI, engine *polling.Engine, log *slog.Logger) (*GenieService, error) {
	if api == nil {
		return nil, errors.New("usecase: genie api must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: polling engine must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &GenieService{api: api, engine: engine, log: log}, nil
}

// Ask starts a new conversation with question and waits for the final answer.
func (s *GenieService) Ask(ctx context.Context, question string) domain.PollResult {
	budget := s.engine.NewBudget()
	s.log.Info("asking genie", "question", truncate(question, 100))

	started, err := polling.Do(ctx, s.engine.Retrier(), "start_conversation", func(ctx context.Context) (domain.StartedConversation, error) {
		return s.api.StartConversation(ctx, question)
	})
	if err != nil {
		s.log.Error("failed to start conversation", "err", err)
		return domain.PollResult{
			Error:          err.Error(),
			ElapsedSeconds: budget.Elapsed(s.engine.Clock().Now()),
		}
	}
	s.log.Info("started conversation", "conversation_id", started.ConversationID, "message_id", started.MessageID)
	return s.engine.Poll(ctx, started.ConversationID, started.MessageID, budget, true)
}

// ContinueConversation posts question to an existing conversation and waits for the answer.
func (s *GenieService) ContinueConversation(ctx context.Context, conversationID, question string) domain.PollResult {
	budget := s.engine.NewBudget()
	s.log.Info("continuing conversation", "conversation_id", conversationID, "question", truncate(question, 100))

	msg, err := polling.Do(ctx, s.engine.Retrier(), "create_message", func(ctx context.Context) (domain.Message, error) {
		return s.api.CreateMessage(ctx, conversationID, question)
	})
	if err != nil {
		s.log.Error("failed to create message", "conversation_id", conversationID, "err", err)
		return domain.PollResult{
			Error:          err.Error(),
			ElapsedSeconds: budget.Elapsed(s.engine.Clock().Now()),
			ConversationID: conversationID,
		}
	}
	return s.engine.Poll(ctx, conversationID, msg.ID, budget, true)
}

func (s *GenieService) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	convs, err := polling.Do(ctx, s.engine.Retrier(), "list_conversations", s.api.ListConversations)
	if err != nil {
		return nil, fmt.Errorf("usecase: list conversations: %w", err)
	}
	for i := range convs {
		if convs[i].Title == "" {
			convs[i].Title = "Untitled"
		}
	}
	return convs, nil
}

// GetConversationMessages renders a conversation as alternating user and
// assistant entries ordered by time.
func (s *GenieService) GetConversationMessages(ctx context.Context, conversationID string) ([]domain.ConversationEntry, error) {
	msgs, err := polling.Do(ctx, s.engine.Retrier(), "list_conversation_messages", func(ctx context.Context) ([]domain.Message, error) {
		return s.api.ListConversationMessages(ctx, conversationID)
	})
	if err != nil {
		return nil, fmt.Errorf("usecase: list conversation messages: %w", err)
	}

	entries := make([]domain.ConversationEntry, 0, 2*len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			entries = append(entries, domain.ConversationEntry{
				Role:      "user",
				Content:   m.Content,
				MessageID: m.ID,
				Timestamp: timePtr(m.CreatedAt),
			})
		}
		if len(m.Attachments) == 0 && m.Anomaly == "" {
			continue
		}
		ex := polling.Extract(m)
		if ex.Answer == "" && ex.Query == "" {
			continue
		}
		content := ex.Answer
		if content == "" {
			content = queryExecutedText
		}
		entries = append(entries, domain.ConversationEntry{
			Role:      "assistant",
			Content:   content,
			SQLQuery:  ex.Query,
			FollowUp:  ex.FollowUp,
			MessageID: m.ID,
			Timestamp: timePtr(m.UpdatedAt),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return unixMillis(entries[i].Timestamp) < unixMillis(entries[j].Timestamp)
	})

	s.log.Info("rendered conversation", "conversation_id", conversationID, "messages", len(msgs), "entries", len(entries))
	return entries, nil
}

// GetQueryResult returns the tabular result behind a message's query. Failures
// are reported in QueryResult.Error rather than as a Go error.
func (s *GenieService) GetQueryResult(ctx context.Context, conversationID, messageID string) domain.QueryResult {
	stmt, err := polling.Do(ctx, s.engine.Retrier(), "get_message_query_result", func(ctx context.Context) (*domain.StatementResponse, error) {
		return s.api.GetMessageQueryResult(ctx, conversationID, messageID)
	})
	if err != nil {
		s.log.Error("failed to get query result", "conversation_id", conversationID, "message_id", messageID, "err", err)
		return domain.QueryResult{Error: "query result fetch failed: " + err.Error()}
	}
	if stmt == nil {
		s.log.Warn("query result has no statement response", "message_id", messageID)
		return domain.QueryResult{Error: "statement response missing; the query may still be executing"}
	}
	if !stmt.HasManifest {
		s.log.Warn("query result has no manifest", "message_id", messageID)
		return domain.QueryResult{Error: "manifest missing; no schema returned"}
	}

	if stmt.HasData {
		total := stmt.TotalRowCount
		if !stmt.HasTotalRows {
			total = int64(len(stmt.Rows))
		}
		return domain.QueryResult{Columns: stmt.Columns, Rows: stmt.Rows, TotalRows: total}
	}
	if stmt.StatementID == "" {
		s.log.Info("query result has no rows and no statement id; returning empty result", "message_id", messageID)
		return domain.QueryResult{Columns: stmt.Columns, Rows: [][]any{}}
	}

	s.log.Info("falling back to statement execution API", "statement_id", stmt.StatementID)
	return s.fetchStatementResult(ctx, stmt.StatementID, stmt.Columns)
}

func (s *GenieService) fetchStatementResult(ctx context.Context, statementID string, columns []domain.Column) domain.QueryResult {
	stmt, err := polling.Do(ctx, s.engine.Retrier(), "get_statement", func(ctx context.Context) (domain.StatementResponse, error) {
		return s.api.GetStatement(ctx, statementID)
	})
	if err != nil {
		s.log.Error("failed to fetch statement", "statement_id", statementID, "err", err)
		return domain.QueryResult{Error: "statement fetch failed: " + err.Error()}
	}
	if stmt.State != "" && !strings.EqualFold(stmt.State, statementSucceeded) {
		s.log.Warn("statement did not succeed", "statement_id", statementID, "state", stmt.State, "reason", stmt.StateError)
		return domain.QueryResult{Error: fmt.Sprintf("statement not succeeded (state=%s)", stmt.State)}
	}

	if stmt.HasManifest && len(stmt.Columns) > 0 {
		columns = stmt.Columns
	}
	rows := stmt.Rows
	if rows == nil {
		rows = [][]any{}
	}
	total := int64(len(rows))
	if stmt.HasManifest && stmt.HasTotalRows {
		total = stmt.TotalRowCount
	}
	return domain.QueryResult{Columns: columns, Rows: rows, TotalRows: total}
}

// SendFeedback records a thumbs up ("positive") or down (anything else) on a message.
func (s *GenieService) SendFeedback(ctx context.Context, conversationID, messageID, rating string) error {
	value := "NEGATIVE"
	if strings.EqualFold(strings.TrimSpace(rating), "positive") {
		value = "POSITIVE"
	}
	_, err := polling.Do(ctx, s.engine.Retrier(), "send_message_feedback", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.api.SendFeedback(ctx, conversationID, messageID, value)
	})
	if err != nil {
		return fmt.Errorf("usecase: send feedback: %w", err)
	}
	return nil
}

func (s *GenieService) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := polling.Do(ctx, s.engine.Retrier(), "delete_conversation", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.api.DeleteConversation(ctx, conversationID)
	})
	if err != nil {
		return fmt.Errorf("usecase: delete conversation: %w", err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func unixMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
