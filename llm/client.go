// Package llm provides the reasoning/vision gateway client used for prompt
// enhancement and edit validation. It speaks the chat-completions protocol
// with inline-base64 image parts and retries transient failures with
// exponential backoff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client calls the reasoning gateway with retry support.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// RetryConfig holds retry configuration for gateway requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Request defines a chat completion request.
type Request struct {
	// Model is the gateway model identifier.
	Model string

	// Messages is the ordered chat history (system, then user).
	Messages []Message

	// MaxTokens limits response length. 0 uses the gateway default.
	MaxTokens int

	// Temperature controls randomness. nil uses the gateway default.
	Temperature *float64

	// ReasoningEffort hints the reasoning budget ("low", "medium", "high").
	ReasoningEffort string

	// PinProviders restricts routing to the named providers, with silent
	// fallback to other providers disabled.
	PinProviders []string

	// WebSearch enables the gateway's web-search plugin.
	WebSearch bool
}

// Response contains the completion result.
type Response struct {
	// RequestID uniquely identifies this call for log correlation.
	RequestID string

	// Content is the generated text. Content-block responses are
	// concatenated in order.
	Content string

	// Model is the effective model that served the request.
	Model string

	// TotalTokens is the total tokens consumed, if reported.
	TotalTokens int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a reasoning-gateway client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Allow time for vision responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req)
		if err == nil {
			resp.RequestID = requestID
			if resp.Model != "" && resp.Model != req.Model {
				c.logger.Warn("Gateway served a different model than requested",
					"request_id", requestID,
					"requested", req.Model,
					"effective", resp.Model)
			}
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.backoffFor(attempt, err)
			c.logger.Debug("Gateway request failed, retrying",
				"request_id", requestID,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("gateway request failed after %d attempts: %w",
		c.retryConfig.MaxAttempts, lastErr)
}

// backoffFor computes the retry delay. A server-requested Retry-After wins;
// otherwise exponential backoff with jitter to avoid synchronized retries.
func (c *Client) backoffFor(attempt int, err error) time.Duration {
	if ra := RetryAfter(err); ra > 0 {
		if ra > c.retryConfig.MaxBackoff {
			return c.retryConfig.MaxBackoff
		}
		return ra
	}

	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// chatRequest is the wire format of a completion request.
type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Reasoning   *reasoningHint `json:"reasoning,omitempty"`
	Provider    *providerPin   `json:"provider,omitempty"`
	Plugins     []plugin       `json:"plugins,omitempty"`
}

type reasoningHint struct {
	Effort string `json:"effort"`
}

type providerPin struct {
	Order          []string `json:"order"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

type plugin struct {
	ID string `json:"id"`
}

// chatResponse is the wire format of a completion response. Content may be a
// plain string or a list of content blocks.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// doRequest executes a single HTTP request to the gateway.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	wire := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = &req.MaxTokens
	}
	if req.ReasoningEffort != "" {
		wire.Reasoning = &reasoningHint{Effort: req.ReasoningEffort}
	}
	if len(req.PinProviders) > 0 {
		wire.Provider = &providerPin{Order: req.PinProviders, AllowFallbacks: false}
	}
	if req.WebSearch {
		wire.Plugins = []plugin{{ID: "web"}}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, httpResp.Header, respBody)
	}

	return parseChatResponse(respBody)
}

// parseChatResponse extracts the completion text, concatenating content
// blocks when the gateway returns structured content.
func parseChatResponse(body []byte) (*Response, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewTransientError(fmt.Errorf("parse gateway response: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, NewTransientError(fmt.Errorf("no choices in gateway response"))
	}

	raw := resp.Choices[0].Message.Content

	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, NewTransientError(fmt.Errorf("unrecognized content shape: %s", truncate(string(raw), 200)))
		}
		for _, b := range blocks {
			if b.Type == "" || b.Type == "text" {
				content += b.Text
			}
		}
	}

	return &Response{
		Content:     content,
		Model:       resp.Model,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, header http.Header, body []byte) error {
	err := fmt.Errorf("gateway error (status %d): %s", statusCode, truncate(string(body), 200))

	switch {
	case statusCode == http.StatusTooManyRequests:
		if ra := parseRetryAfter(header.Get("Retry-After")); ra > 0 {
			return NewRateLimitError(err, ra)
		}
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
