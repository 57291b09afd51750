package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestCompleteSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{
			"model": "vision-1",
			"choices": [{"message": {"content": "hello"}}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-123", WithRetryConfig(fastRetry()))
	resp, err := c.Complete(context.Background(), Request{
		Model:           "vision-1",
		Messages:        []Message{TextMessage("user", "hi")},
		MaxTokens:       100,
		ReasoningEffort: "high",
		PinProviders:    []string{"primary"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "vision-1", resp.Model)
	assert.Equal(t, 42, resp.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "Bearer key-123", gotAuth)

	assert.Equal(t, "vision-1", gotBody["model"])
	reasoning, ok := gotBody["reasoning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", reasoning["effort"])
	provider, ok := gotBody["provider"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, provider["allow_fallbacks"])
}

func TestCompleteContentBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"choices": [{"message": {"content": [
				{"type": "text", "text": "part one "},
				{"type": "image_url"},
				{"type": "text", "text": "part two"}
			]}}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetryConfig(fastRetry()))
	resp, err := c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Content)
}

func TestCompleteRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetryConfig(fastRetry()))
	resp, err := c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetryConfig(fastRetry()))
	_, err := c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetryConfig(fastRetry()))
	_, err := c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestCompleteValidatesInput(t *testing.T) {
	c := NewClient("http://unused", "k")

	_, err := c.Complete(context.Background(), Request{Messages: []Message{TextMessage("user", "x")}})
	assert.ErrorContains(t, err, "model is required")

	_, err = c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorContains(t, err, "at least one message")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
		{http.StatusTeapot, false},
	}

	for _, tt := range tests {
		err := classifyHTTPError(tt.status, http.Header{}, nil)
		assert.Equal(t, tt.transient, IsTransient(err), "status %d", tt.status)
		assert.Equal(t, !tt.transient, IsFatal(err), "status %d", tt.status)
	}
}

func TestMessageMarshal(t *testing.T) {
	plain, err := json.Marshal(TextMessage("system", "rules"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "system", "content": "rules"}`, string(plain))

	mixed, err := json.Marshal(Message{
		Role: "user",
		Parts: []ContentPart{
			TextPart("look at this"),
			ImagePart("image/png", []byte{1, 2, 3}),
		},
	})
	require.NoError(t, err)
	assert.Contains(t, string(mixed), `"type":"image_url"`)
	assert.Contains(t, string(mixed), "data:image/png;base64,")
}
