package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"genie-chat/internal/domain"
	"genie-chat/internal/integrations/paramstore"
)

const defaultHTTPTimeout = 30 * time.Second

// Getter reads a parameter from the secret store.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// invalidator is implemented by getters that cache parameter values.
type invalidator interface {
	Invalidate(name string)
}

// tokenPayload is the expected JSON shape stored in SSM for the Genie token.
type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError captures non-2xx upstream responses. The status code is part
// of the message so transient failures can be recognized from error text.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("genie: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type accessTokenKey struct{}

// WithAccessToken attaches an on-behalf-of token that takes precedence over
// the client's own credentials for requests made with the returned context.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, strings.TrimSpace(token))
}

func accessTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

// Client talks to the Genie conversation API of a single space.
type Client struct {
	baseURL     string
	spaceID     string
	httpClient  *http.Client
	staticToken string

	getter      Getter
	paramPrefix string

	keyMu sync.Mutex
	token string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets a fixed service token, used when no on-behalf-of token is present.
func WithToken(token string) Option {
	return func(c *Client) {
		c.staticToken = strings.TrimSpace(token)
	}
}

// WithParamStore reads the service token from <prefix>/genie-token on first use.
func WithParamStore(getter Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// NewClient creates a Client for the given workspace host and Genie space.
// The host may omit the scheme, in which case https is assumed.
func NewClient(host, spaceID string, opts ...Option) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, errors.New("genie: host must not be empty")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	spaceID = strings.TrimSpace(spaceID)
	if spaceID == "" {
		return nil, errors.New("genie: space id must not be empty")
	}
	c := &Client{
		baseURL:    host,
		spaceID:    spaceID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter != nil && c.paramPrefix == "" {
		return nil, errors.New("genie: parameter prefix must not be empty")
	}
	return c, nil
}

// SpaceID returns the Genie space this client is bound to.
func (c *Client) SpaceID() string { return c.spaceID }

// resolveToken prefers the caller's on-behalf-of token, then the static token,
// then the token read from SSM. Only a successfully read token is kept; a
// failed read is retried on the next call.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if token := accessTokenFrom(ctx); token != "" {
		return token, nil
	}
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	if c.getter == nil {
		return "", errors.New("genie: no access token available")
	}
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchTokenFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) usesStoredToken(ctx context.Context) bool {
	return accessTokenFrom(ctx) == "" && c.staticToken == "" && c.getter != nil
}

// dropStoredToken forgets a rejected SSM token, including the getter's cached
// copy, so the next resolve reads the parameter again.
func (c *Client) dropStoredToken(token string) {
	c.keyMu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.keyMu.Unlock()
	if inv, ok := c.getter.(invalidator); ok {
		inv.Invalidate(c.tokenParameterName())
	}
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/genie-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func (c *Client) spaceURL(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/api/2.0/genie/spaces/")
	b.WriteString(url.PathEscape(c.spaceID))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// StartConversation opens a conversation with its first question.
func (c *Client) StartConversation(ctx context.Context, content string) (domain.StartedConversation, error) {
	raw, err := c.call(ctx, "start_conversation", http.MethodPost, c.spaceURL()+"/start-conversation", map[string]string{"content": content})
	if err != nil {
		return domain.StartedConversation{}, err
	}
	return decodeStarted(raw)
}

// CreateMessage posts a follow-up question to an existing conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string) (domain.Message, error) {
	raw, err := c.call(ctx, "create_message", http.MethodPost, c.spaceURL("conversations", conversationID, "messages"), map[string]string{"content": content})
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.ID == "" {
		return domain.Message{}, errors.New("genie: create_message: response has no message id")
	}
	return msg, nil
}

func (c *Client) GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	raw, err := c.call(ctx, "get_message", http.MethodGet, c.spaceURL("conversations", conversationID, "messages", messageID), nil)
	if err != nil {
		return domain.Message{}, err
	}
	return decodeMessage(raw)
}

// ListConversationMessages returns every message of a conversation, following pagination.
func (c *Client) ListConversationMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := c.paginate(ctx, "list_conversation_messages", c.spaceURL("conversations", conversationID, "messages"), func(raw []byte) (string, error) {
		page, next, err := decodeMessageList(raw)
		out = append(out, page...)
		return next, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	err := c.paginate(ctx, "list_conversations", c.spaceURL("conversations"), func(raw []byte) (string, error) {
		page, next, err := decodeConversationList(raw)
		out = append(out, page...)
		return next, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessageQueryResult returns the statement behind a message's query, or nil
// when the backend has none yet.
func (c *Client) GetMessageQueryResult(ctx context.Context, conversationID, messageID string) (*domain.StatementResponse, error) {
	raw, err := c.call(ctx, "get_message_query_result", http.MethodGet, c.spaceURL("conversations", conversationID, "messages", messageID, "query-result"), nil)
	if err != nil {
		return nil, err
	}
	return decodeQueryResult(raw)
}

// GetStatement reads a statement from the SQL statement execution API.
func (c *Client) GetStatement(ctx context.Context, statementID string) (domain.StatementResponse, error) {
	raw, err := c.call(ctx, "get_statement", http.MethodGet, c.baseURL+"/api/2.0/sql/statements/"+url.PathEscape(statementID), nil)
	if err != nil {
		return domain.StatementResponse{}, err
	}
	return decodeStatement(raw)
}

// SendFeedback records a POSITIVE or NEGATIVE rating on a message.
func (c *Client) SendFeedback(ctx context.Context, conversationID, messageID, rating string) error {
	_, err := c.call(ctx, "send_message_feedback", http.MethodPost, c.spaceURL("conversations", conversationID, "messages", messageID, "feedback"), map[string]string{"rating": rating})
	return err
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.call(ctx, "delete_conversation", http.MethodDelete, c.spaceURL("conversations", conversationID), nil)
	return err
}

func (c *Client) paginate(ctx context.Context, op, endpoint string, page func([]byte) (string, error)) error {
	next := ""
	for {
		target := endpoint
		if next != "" {
			target += "?" + url.Values{"page_token": {next}}.Encode()
		}
		raw, err := c.call(ctx, op, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		token, err := page(raw)
		if err != nil {
			return err
		}
		if token == "" || token == next {
			return nil
		}
		next = token
	}
}

// call sends one request. A 401 on an SSM-sourced token is retried once with
// a freshly read token, which picks up rotated secrets.
func (c *Client) call(ctx context.Context, op, method, target string, payload any) ([]byte, error) {
	var buf []byte
	if payload != nil {
		var err error
		if buf, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("genie: %s: marshal request: %w", op, err)
		}
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.send(ctx, op, method, target, buf, token)

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized && c.usesStoredToken(ctx) {
		c.dropStoredToken(token)
		if token, err = c.resolveToken(ctx); err != nil {
			return nil, err
		}
		raw, err = c.send(ctx, op, method, target, buf, token)
	}
	return raw, err
}

func (c *Client) send(ctx context.Context, op, method, target string, payload []byte, token string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, target, body)
	if reqErr != nil {
		return nil, fmt.Errorf("genie: %s: create request: %w", op, reqErr)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, op)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		return nil, fmt.Errorf("genie: %s: request failed: %w", op, err)
	}
	return raw, nil
}

func (c *Client) doJSONRequest(req *http.Request, op string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			Op:         op,
			Body:       errorMessage(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return []byte("{}"), nil
	}
	return buf, nil
}

// errorMessage prefers the "message" field of a Databricks error body.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			if code := gjson.GetBytes(body, "error_code").String(); code != "" {
				return code + ": " + msg
			}
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("genie: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("genie: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", fmt.Errorf("genie: token parameter %q does not exist: %w", name, err)
	}
	if err != nil {
		return "", fmt.Errorf("genie: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("genie: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("genie: API token is empty")
	}
	return tp.Token, nil
}
