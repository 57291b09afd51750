// Package imagegen submits edit jobs to the image-editing gateway and fans
// them out across the candidate model set. The gateway is asynchronous:
// submit returns a job id, results are polled at a fixed interval.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxDownloadSize bounds output downloads.
const maxDownloadSize = 50 * 1024 * 1024 // 50MB

// Job statuses reported by the gateway.
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

// Client talks to the image-editing gateway.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollDeadline time.Duration
	logger       *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithPolling sets the poll interval and overall polling deadline.
func WithPolling(interval, deadline time.Duration) ClientOption {
	return func(client *Client) {
		client.pollInterval = interval
		client.pollDeadline = deadline
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates an image-editing gateway client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 2 * time.Second,
		pollDeadline: 5 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EditRequest parameterizes one edit job.
type EditRequest struct {
	// Images are the ordered source image URLs.
	Images []string
	// Prompt is the model-specific instruction.
	Prompt string
	// AspectRatio is the requested output aspect ratio ("" omits it).
	AspectRatio string
	// OutputFormat is the requested output encoding ("" omits it).
	OutputFormat string
	// Resolution is the resolution tier ("" omits it).
	Resolution string
	// Seed fixes the generation seed (negative omits it).
	Seed int
}

// submitRequest is the wire format of a job submission.
type submitRequest struct {
	Images             []string `json:"images"`
	Prompt             string   `json:"prompt"`
	AspectRatio        string   `json:"aspect_ratio,omitempty"`
	OutputFormat       string   `json:"output_format,omitempty"`
	Resolution         string   `json:"resolution,omitempty"`
	Seed               *int     `json:"seed,omitempty"`
	EnableBase64Output bool     `json:"enable_base64_output"`
	EnableSyncMode     bool     `json:"enable_sync_mode"`
}

// submitResponse is the wire format of a submission result.
type submitResponse struct {
	Code int `json:"code"`
	Data struct {
		ID   string `json:"id"`
		URLs struct {
			Get string `json:"get"`
		} `json:"urls"`
	} `json:"data"`
	Message string `json:"message"`
}

// resultResponse is the wire format of a poll result.
type resultResponse struct {
	Code int `json:"code"`
	Data struct {
		Status        string   `json:"status"`
		Outputs       []string `json:"outputs"`
		ExecutionTime float64  `json:"executionTime"`
		Error         string   `json:"error"`
	} `json:"data"`
}

// Submit sends an edit job to the model at remotePath and returns its job id.
func (c *Client) Submit(ctx context.Context, remotePath string, req EditRequest) (string, error) {
	wire := submitRequest{
		Images:       req.Images,
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		OutputFormat: req.OutputFormat,
		Resolution:   req.Resolution,
	}
	if req.Seed >= 0 {
		wire.Seed = &req.Seed
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal edit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s", c.baseURL, remotePath), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit edit job: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxDownloadSize))
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit rejected (status %d): %s", httpResp.StatusCode, truncate(respBody, 200))
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse submit response: %w", err)
	}
	if resp.Code != http.StatusOK && resp.Code != 0 {
		return "", fmt.Errorf("submit rejected (code %d): %s", resp.Code, resp.Message)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("submit response carries no job id")
	}

	return resp.Data.ID, nil
}

// PollResult polls the job until it completes, fails, or the polling
// deadline passes. On completion it returns the first output URL.
func (c *Client) PollResult(ctx context.Context, jobID string) (string, error) {
	deadline := time.Now().Add(c.pollDeadline)

	for {
		status, outputs, jobErr, err := c.fetchResult(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch status {
		case statusCompleted:
			if len(outputs) == 0 {
				return "", fmt.Errorf("job %s completed with no outputs", jobID)
			}
			return outputs[0], nil
		case statusFailed:
			return "", fmt.Errorf("job %s failed: %s", jobID, jobErr)
		case statusQueued, statusProcessing:
			// Keep polling.
		default:
			c.logger.Warn("Unknown job status", "job_id", jobID, "status", status)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("job %s polling deadline exceeded after %s", jobID, c.pollDeadline)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) fetchResult(ctx context.Context, jobID string) (status string, outputs []string, jobErr string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/predictions/%s/result", c.baseURL, jobID), nil)
	if err != nil {
		return "", nil, "", fmt.Errorf("create result request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, "", fmt.Errorf("fetch job result: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxDownloadSize))
	if err != nil {
		return "", nil, "", fmt.Errorf("read result response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", nil, "", fmt.Errorf("result fetch failed (status %d): %s", httpResp.StatusCode, truncate(respBody, 200))
	}

	var resp resultResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", nil, "", fmt.Errorf("parse result response: %w", err)
	}

	return resp.Data.Status, resp.Data.Outputs, resp.Data.Error, nil
}

// Download fetches the finished output. Output URLs are downloadable
// without auth.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download output: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("read output body: %w", err)
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
