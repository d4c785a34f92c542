// Package remote is the HTTP client for the cloud chat-history and message
// collections. Endpoints follow the `{ "data": ... }` envelope convention and
// list endpoints take a lastTimestamp query parameter for delta pulls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatsync/internal/models"
)

// StatusError reports a non-2xx response from the remote store.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote store returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth retrying. Client errors
// other than 429 are permanent: the payload will never be accepted.
func (e *StatusError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Client talks to the remote chat-history/message REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL. A zero timeout falls
// back to 30 seconds, the upper bound for every remote call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func sinceQuery(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return "?lastTimestamp=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
}

// FetchChatHistories returns the user's records with updatedAt newer than
// since, or every live record when since is the zero time.
func (c *Client) FetchChatHistories(ctx context.Context, username string, since time.Time) ([]models.ChatHistoryRecord, error) {
	var records []models.ChatHistoryRecord
	path := "/chatHistories/" + url.PathEscape(username) + sinceQuery(since)
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.ChatHistoryRecord{}
	}
	return records, nil
}

// UpsertChatHistory creates or replaces a record by id.
func (c *Client) UpsertChatHistory(ctx context.Context, record models.ChatHistoryRecord) (models.ChatHistoryRecord, error) {
	var saved models.ChatHistoryRecord
	if err := c.do(ctx, http.MethodPost, "/chatHistories", record, &saved); err != nil {
		return models.ChatHistoryRecord{}, err
	}
	return saved, nil
}

// DeleteChatHistory tombstones the record and cascades to its messages.
func (c *Client) DeleteChatHistory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/chatHistories/"+url.PathEscape(id), nil, nil)
}

// FetchMessages returns the chat's messages with updatedAt at or after
// since. The inclusive bound means a message sharing its timestamp with the
// pull cursor is re-sent rather than lost; callers dedupe by messageId.
func (c *Client) FetchMessages(ctx context.Context, chatID string, since time.Time) ([]models.Message, error) {
	var messages []models.Message
	path := "/messages/" + url.PathEscape(chatID) + sinceQuery(since)
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// CreateMessage stores a new message under the chat. The server upserts by
// (chatId, messageId) so a replayed create cannot duplicate.
func (c *Client) CreateMessage(ctx context.Context, chatID string, message models.Message) (models.Message, error) {
	var saved models.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(chatID), message, &saved); err != nil {
		return models.Message{}, err
	}
	return saved, nil
}

// UpdateMessage replaces an existing message's mutable fields.
func (c *Client) UpdateMessage(ctx context.Context, chatID, messageID string, message models.Message) (models.Message, error) {
	var saved models.Message
	path := "/messages/" + url.PathEscape(chatID) + "/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodPut, path, message, &saved); err != nil {
		return models.Message{}, err
	}
	return saved, nil
}

// DeleteMessage tombstones a single message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	path := "/messages/" + url.PathEscape(chatID) + "/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
