package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
)

type promptLog struct {
	mu      sync.Mutex
	prompts []string
}

func (l *promptLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.prompts...)
}

func chatServer(t *testing.T, status int, reply string) (*httptest.Server, *promptLog) {
	t.Helper()
	prompts := &promptLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prompts.mu.Lock()
		prompts.prompts = append(prompts.prompts, req.Messages[0].Content)
		prompts.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"overloaded"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, prompts
}

func TestCompleteOllama(t *testing.T) {
	srv, prompts := chatServer(t, http.StatusOK, "Classification: EQUAL\nExplanation: same")

	c, err := NewClient(context.Background(), config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, c.Provider())

	reply, err := c.Complete(context.Background(), "compare these")
	require.NoError(t, err)
	assert.Equal(t, "Classification: EQUAL\nExplanation: same", reply)
	assert.Equal(t, []string{"compare these"}, prompts.all())
}

func TestCompleteFailureIsUnavailable(t *testing.T) {
	srv, prompts := chatServer(t, http.StatusServiceUnavailable, "")

	c, err := NewClient(context.Background(), config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.Len(t, prompts.all(), 1, "no internal retry")
}

func TestNewClientConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
	}{
		{"openai without key", config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}},
		{"gemini without key", config.LLMConfig{Provider: "gemini"}},
		{"unknown provider", config.LLMConfig{Provider: "watson"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

type stubBackend struct{ calls int }

func (s *stubBackend) complete(context.Context, string) (string, error) {
	s.calls++
	return "ok", nil
}

func TestCompleteHonoursCancelledContext(t *testing.T) {
	stub := &stubBackend{}
	c := newClient(ProviderOllama, "m", stub, 1, 0)

	_, err := c.Complete(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, "second")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.Equal(t, 1, stub.calls)
}
