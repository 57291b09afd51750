package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// maxDownloadSize bounds attachment downloads.
const maxDownloadSize = 50 * 1024 * 1024 // 50MB

// Client talks to the work-tracker API. Authentication is a direct API key
// in the Authorization header, without a bearer prefix.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithBackoff overrides the retry cadence.
func WithBackoff(maxAttempts int, base time.Duration) ClientOption {
	return func(client *Client) {
		client.maxAttempts = maxAttempts
		client.backoffBase = base
	}
}

// NewClient creates a work-tracker client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		backoffBase: time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTask fetches the full task envelope including custom fields and
// attachments.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/task/%s", taskID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", taskID, err)
	}
	return &task, nil
}

// SetStatus transitions the task to the given status.
func (c *Client) SetStatus(ctx context.Context, taskID, status string) error {
	payload, _ := json.Marshal(map[string]string{"status": status})
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/task/%s", taskID), "application/json", payload)
	if err != nil {
		return fmt.Errorf("set status on task %s: %w", taskID, err)
	}
	return nil
}

// PostComment posts a text comment on the task.
func (c *Client) PostComment(ctx context.Context, taskID, text string) error {
	payload, _ := json.Marshal(map[string]string{"comment_text": text})
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/task/%s/comment", taskID), "application/json", payload)
	if err != nil {
		return fmt.Errorf("post comment on task %s: %w", taskID, err)
	}
	return nil
}

// SetCustomField writes a custom field value.
func (c *Client) SetCustomField(ctx context.Context, taskID, fieldID string, value any) error {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("marshal field value: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/task/%s/field/%s", taskID, fieldID), "application/json", payload)
	if err != nil {
		return fmt.Errorf("set field %s on task %s: %w", fieldID, taskID, err)
	}
	return nil
}

// UploadAttachment uploads a file to the task as a multipart attachment.
func (c *Client) UploadAttachment(ctx context.Context, taskID, filename string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("attachment", filename)
	if err != nil {
		return fmt.Errorf("create multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/task/%s/attachment", taskID),
		writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return fmt.Errorf("upload attachment to task %s: %w", taskID, err)
	}
	return nil
}

// DownloadAttachment fetches attachment bytes from its URL. Attachment URLs
// are pre-signed and need no auth header.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	return data, nil
}

// do executes one API request with retries on transport errors and 5xx/429
// responses. Auth failures surface immediately.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		respBody, retryable, err := c.doOnce(ctx, method, path, contentType, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		if attempt < c.maxAttempts {
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			c.logger.Debug("Tracker request failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("tracker request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path, contentType string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("tracker error (status %d)", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("tracker error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
