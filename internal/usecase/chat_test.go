package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genie-chat/internal/domain"
	"genie-chat/internal/repository"
)

type mockGenie struct {
	askResult      domain.PollResult
	continueResult domain.PollResult
	convs          []domain.ConversationSummary
	convsErr       error
	entries        []domain.ConversationEntry
	entriesErr     error
	queryResult    domain.QueryResult
	feedbackErr    error
	deleteErr      error

	askCalls      int
	continueCalls int
	deleted       []string
	feedback      []string
}

func (m *mockGenie) Ask(_ context.Context, _ string) domain.PollResult {
	m.askCalls++
	return m.askResult
}

func (m *mockGenie) ContinueConversation(_ context.Context, _, _ string) domain.PollResult {
	m.continueCalls++
	return m.continueResult
}

func (m *mockGenie) ListConversations(_ context.Context) ([]domain.ConversationSummary, error) {
	return m.convs, m.convsErr
}

func (m *mockGenie) GetConversationMessages(_ context.Context, _ string) ([]domain.ConversationEntry, error) {
	return m.entries, m.entriesErr
}

func (m *mockGenie) GetQueryResult(_ context.Context, _, _ string) domain.QueryResult {
	return m.queryResult
}

func (m *mockGenie) SendFeedback(_ context.Context, _, messageID, rating string) error {
	m.feedback = append(m.feedback, messageID+"="+rating)
	return m.feedbackErr
}

func (m *mockGenie) DeleteConversation(_ context.Context, conversationID string) error {
	m.deleted = append(m.deleted, conversationID)
	return m.deleteErr
}

type mockLedger struct {
	owned     map[string]domain.Ownership
	recordErr error
	touchErr  error
	removeErr error
	readErr   error

	recorded []string
	touched  []string
	removed  []string
}

func newMockLedger(owned ...domain.Ownership) *mockLedger {
	l := &mockLedger{owned: map[string]domain.Ownership{}}
	for _, o := range owned {
		l.owned[o.ConversationID] = o
	}
	return l
}

func (l *mockLedger) Record(_ context.Context, _, conversationID, title string) error {
	l.recorded = append(l.recorded, conversationID+":"+title)
	if l.recordErr != nil {
		return l.recordErr
	}
	l.owned[conversationID] = domain.Ownership{ConversationID: conversationID, Title: title}
	return nil
}

func (l *mockLedger) Touch(_ context.Context, _, conversationID string) error {
	l.touched = append(l.touched, conversationID)
	return l.touchErr
}

func (l *mockLedger) Remove(_ context.Context, _, conversationID string) error {
	l.removed = append(l.removed, conversationID)
	return l.removeErr
}

func (l *mockLedger) ListByUser(_ context.Context, _ string) ([]domain.Ownership, error) {
	if l.readErr != nil {
		return nil, l.readErr
	}
	out := make([]domain.Ownership, 0, len(l.owned))
	for _, o := range l.owned {
		out = append(out, o)
	}
	return out, nil
}

func (l *mockLedger) Owns(_ context.Context, _, conversationID string) (bool, error) {
	if l.readErr != nil {
		return false, l.readErr
	}
	_, ok := l.owned[conversationID]
	return ok, nil
}

func newTestChatService(t *testing.T, g *mockGenie, l *mockLedger) *ChatService {
	t.Helper()
	svc, err := NewChatService(g, l, 50, discardLogger())
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
}

func TestNewChatService_Validation(t *testing.T) {
	_, err := NewChatService(nil, newMockLedger(), 0, nil)
	require.Error(t, err)
	_, err = NewChatService(&mockGenie{}, nil, 0, nil)
	require.Error(t, err)

	svc, err := NewChatService(&mockGenie{}, newMockLedger(), 0, nil)
	require.NoError(t, err)
	require.Equal(t, defaultMaxQuestion, svc.maxQuestionLen)
}

func TestChatService_AskValidation(t *testing.T) {
	g := &mockGenie{}
	svc := newTestChatService(t, g, newMockLedger())

	_, err := svc.Ask(context.Background(), AskInput{User: " ", Question: "hi"})
	requireCode(t, err, ErrorUnauthenticated)

	_, err = svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "   "})
	requireCode(t, err, ErrorInvalidInput)

	long := make([]rune, 51)
	for i := range long {
		long[i] = 'é'
	}
	_, err = svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: string(long)})
	requireCode(t, err, ErrorInvalidInput)
	require.Contains(t, err.Error(), "question_too_long")

	require.Zero(t, g.askCalls)
}

func TestChatService_AskRecordsNewConversation(t *testing.T) {
	g := &mockGenie{askResult: domain.PollResult{Success: true, ConversationID: "conv-1", MessageID: "m1"}}
	l := newMockLedger()
	svc := newTestChatService(t, g, l)

	res, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "  What is\ntotal revenue?  "})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{"conv-1:What is total revenue?"}, l.recorded)
}

func TestChatService_AskFailureIsNotRecorded(t *testing.T) {
	g := &mockGenie{askResult: domain.PollResult{Error: "query FAILED", ConversationID: "conv-1"}}
	l := newMockLedger()
	svc := newTestChatService(t, g, l)

	res, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "What is total revenue?"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Empty(t, l.recorded)
}

func TestChatService_AskLedgerFailureIsNotFatal(t *testing.T) {
	g := &mockGenie{askResult: domain.PollResult{Success: true, ConversationID: "conv-1"}}
	l := newMockLedger()
	l.recordErr = errors.New("throttled")
	svc := newTestChatService(t, g, l)

	res, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "What is total revenue?"})
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestChatService_ContinueRequiresOwnership(t *testing.T) {
	g := &mockGenie{}
	svc := newTestChatService(t, g, newMockLedger())

	_, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "By region?", ConversationID: "conv-9"})
	requireCode(t, err, ErrorNotFound)
	require.Zero(t, g.continueCalls)
}

func TestChatService_ContinueTouchesConversation(t *testing.T) {
	g := &mockGenie{continueResult: domain.PollResult{Success: true, ConversationID: "conv-1"}}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	_, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "By region?", ConversationID: "conv-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"conv-1"}, l.touched)
	require.Empty(t, l.recorded)
}

func TestChatService_ContinueRecordsWhenTouchFindsNothing(t *testing.T) {
	g := &mockGenie{continueResult: domain.PollResult{Success: true, ConversationID: "conv-1"}}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	l.touchErr = repository.ErrNotOwned
	svc := newTestChatService(t, g, l)

	_, err := svc.Ask(context.Background(), AskInput{User: "ana@example.com", Question: "By region?", ConversationID: "conv-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"conv-1:By region?"}, l.recorded)
}

func TestChatService_ListConversationsFiltersToOwned(t *testing.T) {
	older := t0.Add(-time.Hour)
	newer := t0
	g := &mockGenie{convs: []domain.ConversationSummary{
		{ID: "c1", Title: "Untitled", UpdatedAt: &older},
		{ID: "other", Title: "Someone else's"},
		{ID: "c2", Title: "Margins", UpdatedAt: &newer},
	}}
	l := newMockLedger(
		domain.Ownership{ConversationID: "c1", Title: "Revenue by region"},
		domain.Ownership{ConversationID: "c2"},
	)
	svc := newTestChatService(t, g, l)

	convs, err := svc.ListConversations(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, "c2", convs[0].ID)
	require.Equal(t, "Revenue by region", convs[1].Title)
}

func TestChatService_ListConversationsEmptyLedgerSkipsBackend(t *testing.T) {
	g := &mockGenie{convsErr: errors.New("should not be called")}
	svc := newTestChatService(t, g, newMockLedger())

	convs, err := svc.ListConversations(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Empty(t, convs)
	require.NotNil(t, convs)
}

func TestChatService_ListConversationsErrors(t *testing.T) {
	l := newMockLedger(domain.Ownership{ConversationID: "c1"})
	g := &mockGenie{convsErr: errors.New("unavailable")}
	svc := newTestChatService(t, g, l)

	_, err := svc.ListConversations(context.Background(), "ana@example.com")
	requireCode(t, err, ErrorUpstream)

	l.readErr = errors.New("dynamo down")
	_, err = svc.ListConversations(context.Background(), "ana@example.com")
	requireCode(t, err, ErrorInternal)

	_, err = svc.ListConversations(context.Background(), "")
	requireCode(t, err, ErrorUnauthenticated)
}

func TestChatService_GetConversationMessages(t *testing.T) {
	g := &mockGenie{entries: []domain.ConversationEntry{{Role: "user", Content: "hi"}}}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	entries, err := svc.GetConversationMessages(context.Background(), "ana@example.com", "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = svc.GetConversationMessages(context.Background(), "ana@example.com", "conv-2")
	requireCode(t, err, ErrorNotFound)

	_, err = svc.GetConversationMessages(context.Background(), "ana@example.com", " ")
	requireCode(t, err, ErrorInvalidInput)

	g.entriesErr = errors.New("boom")
	_, err = svc.GetConversationMessages(context.Background(), "ana@example.com", "conv-1")
	requireCode(t, err, ErrorUpstream)
}

func TestChatService_GetQueryResult(t *testing.T) {
	g := &mockGenie{queryResult: domain.QueryResult{Error: "manifest missing; no schema returned"}}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	res, err := svc.GetQueryResult(context.Background(), "ana@example.com", "conv-1", "m1")
	require.NoError(t, err)
	require.Equal(t, "manifest missing; no schema returned", res.Error)

	_, err = svc.GetQueryResult(context.Background(), "ana@example.com", "conv-1", "")
	requireCode(t, err, ErrorInvalidInput)
}

func TestChatService_SendFeedback(t *testing.T) {
	g := &mockGenie{}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	require.NoError(t, svc.SendFeedback(context.Background(), "ana@example.com", "conv-1", "m1", "positive"))
	require.Equal(t, []string{"m1=positive"}, g.feedback)

	err := svc.SendFeedback(context.Background(), "ana@example.com", "conv-1", "m1", "meh")
	requireCode(t, err, ErrorInvalidInput)

	g.feedbackErr = errors.New("boom")
	err = svc.SendFeedback(context.Background(), "ana@example.com", "conv-1", "m1", "negative")
	requireCode(t, err, ErrorUpstream)
}

func TestChatService_DeleteConversation(t *testing.T) {
	g := &mockGenie{}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	require.NoError(t, svc.DeleteConversation(context.Background(), "ana@example.com", "conv-1"))
	require.Equal(t, []string{"conv-1"}, g.deleted)
	require.Equal(t, []string{"conv-1"}, l.removed)
}

func TestChatService_DeleteConversationBackendFailureKeepsLedger(t *testing.T) {
	g := &mockGenie{deleteErr: errors.New("boom")}
	l := newMockLedger(domain.Ownership{ConversationID: "conv-1"})
	svc := newTestChatService(t, g, l)

	err := svc.DeleteConversation(context.Background(), "ana@example.com", "conv-1")
	requireCode(t, err, ErrorUpstream)
	require.Empty(t, l.removed)
}

func TestErrorFormatting(t *testing.T) {
	require.Equal(t, "usecase: NOT_FOUND (conversation_not_found)", newError(ErrorNotFound, "conversation_not_found", nil).Error())
	wrapped := newError(ErrorUpstream, "genie_list_error", errors.New("boom"))
	require.Equal(t, "usecase: UPSTREAM_ERROR (genie_list_error): boom", wrapped.Error())
	require.EqualError(t, errors.Unwrap(wrapped), "boom")
}
