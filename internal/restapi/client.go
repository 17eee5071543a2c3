// Package restapi is the HTTP client for the chat REST endpoints.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/domain"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Client calls the chat REST API with the current bearer token.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API rooted at baseURL, e.g.
// "https://api.example.com/api".
func New(baseURL string, tokens auth.TokenSource, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchConversations lists the conversations visible to the staff member.
func (c *Client) FetchConversations(ctx context.Context) ([]domain.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, "/chat/conversations/", nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	var convs []domain.Conversation
	if err := decodeResults(body, &convs); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	return convs, nil
}

// FetchMessages returns a conversation with its message history.
func (c *Client) FetchMessages(ctx context.Context, conversationID int64) (domain.ConversationDetails, error) {
	var details domain.ConversationDetails
	body, err := c.do(ctx, http.MethodGet, "/chat/conversations/"+strconv.FormatInt(conversationID, 10), nil, "")
	if err != nil {
		return details, fmt.Errorf("fetch conversation %d: %w", conversationID, err)
	}
	if err := decodeData(body, &details); err != nil {
		return details, fmt.Errorf("fetch conversation %d: %w", conversationID, err)
	}
	return details, nil
}

// UploadMedia uploads a file as multipart form data. The caption field is
// omitted when empty.
func (c *Client) UploadMedia(ctx context.Context, conversationID int64, file domain.File, caption string) (domain.MediaUpload, error) {
	var up domain.MediaUpload

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("conversation_id", strconv.FormatInt(conversationID, 10)); err != nil {
		return up, err
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return up, err
	}
	if _, err := part.Write(file.Data); err != nil {
		return up, err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return up, err
		}
	}
	if err := mw.Close(); err != nil {
		return up, err
	}

	body, err := c.do(ctx, http.MethodPost, "/chat/upload-media/", &buf, mw.FormDataContentType())
	if err != nil {
		return up, fmt.Errorf("upload media: %w", err)
	}
	if err := decodeData(body, &up); err != nil {
		return up, fmt.Errorf("upload media: %w", err)
	}
	return up, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+tok)
		case !errors.Is(err, auth.ErrNoToken):
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Message
	if msg == "" {
		msg = payload.Detail
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg, Body: body}
}
