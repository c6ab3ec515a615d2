package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"genie-chat/internal/domain"
	"genie-chat/internal/repository"
)

const (
	defaultMaxQuestion = 2000
	maxTitleLength     = 80
)

// Genie is the set of space operations ChatService builds on.
// *GenieService satisfies it.
type Genie interface {
	Ask(ctx context.Context, question string) domain.PollResult
	ContinueConversation(ctx context.Context, conversationID, question string) domain.PollResult
	ListConversations(ctx context.Context) ([]domain.ConversationSummary, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]domain.ConversationEntry, error)
	GetQueryResult(ctx context.Context, conversationID, messageID string) domain.QueryResult
	SendFeedback(ctx context.Context, conversationID, messageID, rating string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// OwnershipLedger tracks which conversations belong to which user.
type OwnershipLedger interface {
	Record(ctx context.Context, userID, conversationID, title string) error
	Touch(ctx context.Context, userID, conversationID string) error
	Remove(ctx context.Context, userID, conversationID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Ownership, error)
	Owns(ctx context.Context, userID, conversationID string) (bool, error)
}

// ChatService scopes Genie operations to the calling user. A user only sees
// conversations they started through this service.
type ChatService struct {
	genie          Genie
	ledger         OwnershipLedger
	maxQuestionLen int
	log            *slog.Logger
}

type AskInput struct {
	User           string
	Question       string
	ConversationID string
}

func NewChatService(g Genie, ledger OwnershipLedger, maxQuestionLen int, log *slog.Logger) (*ChatService, error) {
	if g == nil {
		return nil, errors.New("usecase: genie must not be nil")
	}
	if ledger == nil {
		return nil, errors.New("usecase: ownership ledger must not be nil")
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{genie: g, ledger: ledger, maxQuestionLen: maxQuestionLen, log: log}, nil
}

// Ask runs a question, new or continued. A failed answer is still returned as
// a PollResult; the error return is reserved for rejected requests.
func (s *ChatService) Ask(ctx context.Context, in AskInput) (domain.PollResult, error) {
	user, err := requireUser(in.User)
	if err != nil {
		return domain.PollResult{}, err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return domain.PollResult{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.maxQuestionLen {
		return domain.PollResult{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		res := s.genie.Ask(ctx, question)
		if res.Success && res.ConversationID != "" {
			if err := s.ledger.Record(ctx, user, res.ConversationID, title(question)); err != nil {
				s.log.Error("failed to record conversation ownership", "conversation_id", res.ConversationID, "err", err)
			}
		}
		return res, nil
	}

	if err := s.authorize(ctx, user, convID); err != nil {
		return domain.PollResult{}, err
	}
	res := s.genie.ContinueConversation(ctx, convID, question)
	if res.Success {
		err := s.ledger.Touch(ctx, user, convID)
		if errors.Is(err, repository.ErrNotOwned) {
			err = s.ledger.Record(ctx, user, convID, title(question))
		}
		if err != nil {
			s.log.Error("failed to update conversation activity", "conversation_id", convID, "err", err)
		}
	}
	return res, nil
}

// ListConversations returns the user's conversations that still exist in the
// space, most recently updated first.
func (s *ChatService) ListConversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	user, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	owned, err := s.ledger.ListByUser(ctx, user)
	if err != nil {
		return nil, newError(ErrorInternal, "ledger_read_error", err)
	}
	if len(owned) == 0 {
		return []domain.ConversationSummary{}, nil
	}
	byID := make(map[string]domain.Ownership, len(owned))
	for _, o := range owned {
		byID[o.ConversationID] = o
	}

	convs, err := s.genie.ListConversations(ctx)
	if err != nil {
		return nil, newError(ErrorUpstream, "genie_list_error", err)
	}

	out := make([]domain.ConversationSummary, 0, len(owned))
	for _, c := range convs {
		o, ok := byID[c.ID]
		if !ok {
			continue
		}
		if (c.Title == "" || c.Title == "Untitled") && o.Title != "" {
			c.Title = o.Title
		}
		if c.UpdatedAt == nil {
			c.UpdatedAt = parseRFC3339(o.LastActivity)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return unixMillis(latest(out[i])) > unixMillis(latest(out[j]))
	})
	return out, nil
}

func (s *ChatService) GetConversationMessages(ctx context.Context, user, conversationID string) ([]domain.ConversationEntry, error) {
	if err := s.authorizeUser(ctx, user, conversationID); err != nil {
		return nil, err
	}
	entries, err := s.genie.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorUpstream, "genie_messages_error", err)
	}
	return entries, nil
}

func (s *ChatService) GetQueryResult(ctx context.Context, user, conversationID, messageID string) (domain.QueryResult, error) {
	if err := s.authorizeUser(ctx, user, conversationID); err != nil {
		return domain.QueryResult{}, err
	}
	if strings.TrimSpace(messageID) == "" {
		return domain.QueryResult{}, newError(ErrorInvalidInput, "missing_message_id", nil)
	}
	return s.genie.GetQueryResult(ctx, conversationID, messageID), nil
}

func (s *ChatService) SendFeedback(ctx context.Context, user, conversationID, messageID, rating string) error {
	if err := s.authorizeUser(ctx, user, conversationID); err != nil {
		return err
	}
	if strings.TrimSpace(messageID) == "" {
		return newError(ErrorInvalidInput, "missing_message_id", nil)
	}
	switch strings.ToLower(strings.TrimSpace(rating)) {
	case "positive", "negative":
	default:
		return newError(ErrorInvalidInput, "invalid_rating", nil)
	}
	if err := s.genie.SendFeedback(ctx, conversationID, messageID, rating); err != nil {
		return newError(ErrorUpstream, "genie_feedback_error", err)
	}
	return nil
}

// DeleteConversation deletes the conversation in the space, then forgets it.
func (s *ChatService) DeleteConversation(ctx context.Context, user, conversationID string) error {
	if err := s.authorizeUser(ctx, user, conversationID); err != nil {
		return err
	}
	if err := s.genie.DeleteConversation(ctx, conversationID); err != nil {
		return newError(ErrorUpstream, "genie_delete_error", err)
	}
	if err := s.ledger.Remove(ctx, user, conversationID); err != nil {
		return newError(ErrorInternal, "ledger_write_error", err)
	}
	return nil
}

func (s *ChatService) authorizeUser(ctx context.Context, user, conversationID string) error {
	user, err := requireUser(user)
	if err != nil {
		return err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	return s.authorize(ctx, user, conversationID)
}

func (s *ChatService) authorize(ctx context.Context, user, conversationID string) error {
	owned, err := s.ledger.Owns(ctx, user, conversationID)
	if err != nil {
		return newError(ErrorInternal, "ledger_read_error", err)
	}
	if !owned {
		return newError(ErrorNotFound, "conversation_not_found", nil)
	}
	return nil
}

func requireUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", newError(ErrorUnauthenticated, "missing_identity", nil)
	}
	return user, nil
}

func title(question string) string {
	return truncate(strings.Join(strings.Fields(question), " "), maxTitleLength)
}

func latest(c domain.ConversationSummary) *time.Time {
	if c.UpdatedAt != nil {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

func parseRFC3339(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
