package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"genie-chat/internal/domain"
	"genie-chat/internal/integrations/genie"
	"genie-chat/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerEmail         = "X-Forwarded-Email"
	headerUsername      = "X-Forwarded-Preferred-Username"
	headerAccessToken   = "X-Forwarded-Access-Token"
)

// ChatUseCase is the user-scoped service the routes call into.
type ChatUseCase interface {
	Ask(ctx context.Context, in usecase.AskInput) (domain.PollResult, error)
	ListConversations(ctx context.Context, user string) ([]domain.ConversationSummary, error)
	GetConversationMessages(ctx context.Context, user, conversationID string) ([]domain.ConversationEntry, error)
	GetQueryResult(ctx context.Context, user, conversationID, messageID string) (domain.QueryResult, error)
	SendFeedback(ctx context.Context, user, conversationID, messageID, rating string) error
	DeleteConversation(ctx context.Context, user, conversationID string) error
}

type Handler struct {
	uc  ChatUseCase
	log *slog.Logger
}

type Option func(*Handler)

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

type feedbackRequest struct {
	Rating string `json:"rating"`
}

type conversationsResponse struct {
	Success       bool                         `json:"success"`
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type messagesResponse struct {
	Success  bool                       `json:"success"`
	Messages []domain.ConversationEntry `json:"messages"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// request carries what every route needs from the incoming event.
type request struct {
	event         events.APIGatewayProxyRequest
	user          string
	correlationID string
	log           *slog.Logger
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := header(event, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	req := request{
		event:         event,
		user:          identity(event),
		correlationID: correlationID,
		log:           h.log.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path),
	}
	if token := header(event, headerAccessToken); token != "" {
		ctx = genie.WithAccessToken(ctx, token)
	}

	resp := h.route(ctx, req)
	req.log.Info("request handled", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req request) events.APIGatewayProxyResponse {
	segments, err := pathSegments(req.event.Path)
	if err != nil {
		return req.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_path")
	}
	method := strings.ToUpper(req.event.HTTPMethod)

	switch {
	case matches(segments, "health"):
		if method != http.MethodGet {
			return req.methodNotAllowed()
		}
		return req.json(http.StatusOK, map[string]string{"status": "ok"})

	case matches(segments, "api", "ask"):
		if method != http.MethodPost {
			return req.methodNotAllowed()
		}
		return h.ask(ctx, req)

	case matches(segments, "api", "conversations"):
		if method != http.MethodGet {
			return req.methodNotAllowed()
		}
		convs, err := h.uc.ListConversations(ctx, req.user)
		if err != nil {
			return req.fromError(err)
		}
		return req.json(http.StatusOK, conversationsResponse{Success: true, Conversations: convs})

	case matches(segments, "api", "conversations", "*"):
		if method != http.MethodDelete {
			return req.methodNotAllowed()
		}
		if err := h.uc.DeleteConversation(ctx, req.user, segments[2]); err != nil {
			return req.fromError(err)
		}
		return req.json(http.StatusOK, successResponse{Success: true})

	case matches(segments, "api", "conversations", "*", "messages"):
		if method != http.MethodGet {
			return req.methodNotAllowed()
		}
		entries, err := h.uc.GetConversationMessages(ctx, req.user, segments[2])
		if err != nil {
			return req.fromError(err)
		}
		return req.json(http.StatusOK, messagesResponse{Success: true, Messages: entries})

	case matches(segments, "api", "conversations", "*", "messages", "*", "query-result"):
		if method != http.MethodGet {
			return req.methodNotAllowed()
		}
		result, err := h.uc.GetQueryResult(ctx, req.user, segments[2], segments[4])
		if err != nil {
			return req.fromError(err)
		}
		return req.json(http.StatusOK, result)

	case matches(segments, "api", "conversations", "*", "messages", "*", "feedback"):
		if method != http.MethodPost {
			return req.methodNotAllowed()
		}
		var in feedbackRequest
		if err := req.decode(&in); err != nil {
			return req.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
		}
		if err := h.uc.SendFeedback(ctx, req.user, segments[2], segments[4], in.Rating); err != nil {
			return req.fromError(err)
		}
		return req.json(http.StatusOK, successResponse{Success: true})
	}

	return req.fail(http.StatusNotFound, usecase.ErrorNotFound, "route_not_found")
}

// ask always answers 200 with the poll result once the request is accepted;
// callers check its success flag.
func (h *Handler) ask(ctx context.Context, req request) events.APIGatewayProxyResponse {
	var in askRequest
	if err := req.decode(&in); err != nil {
		return req.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
	}
	res, err := h.uc.Ask(ctx, usecase.AskInput{
		User:           req.user,
		Question:       in.Question,
		ConversationID: in.ConversationID,
	})
	if err != nil {
		return req.fromError(err)
	}
	if !res.Success {
		req.log.Warn("question did not produce an answer", "conversation_id", res.ConversationID, "err", res.Error)
	}
	return req.json(http.StatusOK, res)
}

func (r request) decode(v any) error {
	body := r.event.Body
	if r.event.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return err
		}
		body = string(raw)
	}
	return json.Unmarshal([]byte(body), v)
}

func (r request) fromError(err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		r.log.Error("unexpected error", "err", err)
		return r.fail(http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error")
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnauthenticated:
		status = http.StatusUnauthorized
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		r.log.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return r.fail(status, ucErr.Code, ucErr.Reason)
}

func (r request) fail(status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	return r.json(status, errorResponse{
		Error:         string(code),
		Reason:        reason,
		CorrelationID: r.correlationID,
	})
}

func (r request) methodNotAllowed() events.APIGatewayProxyResponse {
	return r.fail(http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed")
}

func (r request) json(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		r.log.Error("failed to encode response", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: r.correlationID,
		},
		Body: string(body),
	}
}

// header looks a header up case-insensitively in both header maps.
func header(event events.APIGatewayProxyRequest, name string) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for k, vs := range event.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
			return strings.TrimSpace(vs[0])
		}
	}
	return ""
}

func identity(event events.APIGatewayProxyRequest) string {
	if email := header(event, headerEmail); email != "" {
		return email
	}
	return header(event, headerUsername)
}

func pathSegments(path string) ([]string, error) {
	var segments []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s == "" {
			continue
		}
		unescaped, err := url.PathUnescape(s)
		if err != nil {
			return nil, err
		}
		segments = append(segments, unescaped)
	}
	return segments, nil
}

// matches compares path segments to a pattern where "*" matches any one segment.
func matches(segments []string, pattern ...string) bool {
	if len(segments) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return true
}
