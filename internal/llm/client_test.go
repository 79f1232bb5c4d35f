package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/cropcare/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func fastRetry(attempts int) llm.ClientOption {
	return llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       5 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxBackoff:        20 * time.Millisecond,
	})
}

func TestClient_GenerateText_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, float64(1500), body["max_tokens"])
		assert.Equal(t, 0.4, body["temperature"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(`{"summary": "ok"}`))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL+"/v1/", "test-model", llm.WithAPIKey("sk-test"))

	text, err := client.GenerateText(context.Background(), "plan my week", 1500, 0.4)

	require.NoError(t, err)
	assert.Equal(t, `{"summary": "ok"}`, text)
}

func TestClient_GenerateText_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("busy"))
			return
		}
		json.NewEncoder(w).Encode(chatCompletion("after retries"))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", fastRetry(3))

	text, err := client.GenerateText(context.Background(), "hello", 100, 0)

	require.NoError(t, err)
	assert.Equal(t, "after retries", text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_GenerateText_NoRetryOnFatalError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", fastRetry(3))

	_, err := client.GenerateText(context.Background(), "hello", 100, 0)

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_GenerateText_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", fastRetry(2))

	_, err := client.GenerateText(context.Background(), "hello", 100, 0)

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestClient_GenerateText_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", fastRetry(3))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GenerateText(ctx, "hello", 100, 0)

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_GenerateText_EmptyPrompt(t *testing.T) {
	client := llm.NewClient("http://127.0.0.1:1", "test-model")

	_, err := client.GenerateText(context.Background(), "  ", 100, 0)

	assert.True(t, llm.IsFatal(err))
}

func TestClient_GenerateText_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model")

	_, err := client.GenerateText(context.Background(), "hello", 100, 0)

	assert.True(t, llm.IsFatal(err))
}
