// Package llm wraps the text completion endpoints used to classify control
// pairs.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
)

// Provider names a completion backend
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	// ProviderOllama is any OpenAI-compatible chat endpoint at BaseURL
	ProviderOllama Provider = "ollama"
)

// DefaultOllamaURL is used when the ollama provider has no base URL
const DefaultOllamaURL = "http://localhost:11434/v1"

// backend performs one completion without throttling or metrics
type backend interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Client sends prompts to the configured provider, rate limited per minute
type Client struct {
	provider Provider
	model    string
	backend  backend
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a client for cfg.Provider. The API key must already be
// resolved (env, keychain or file) by the config layer.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	provider := Provider(cfg.Provider)
	if provider == "" {
		provider = ProviderOllama
	}

	var (
		b   backend
		err error
	)
	switch provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.ConfigErrorf("llm provider openai requires an API key (set OPENAI_API_KEY or run 'cysecmato configure')")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		b = newOpenAIBackend(oc, cfg, logger)
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = baseURL
		b = newOpenAIBackend(oc, cfg, logger)
	case ProviderGemini:
		b, err = newGeminiBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.ConfigErrorf("unknown llm provider %q", cfg.Provider)
	}

	c := newClient(provider, cfg.Model, b, cfg.RequestsPerMinute, cfg.Timeout)
	c.logger = logger
	logger.Info("llm client initialized", "provider", provider, "model", cfg.Model, "rpm", cfg.RequestsPerMinute)
	return c, nil
}

func newClient(provider Provider, model string, b backend, rpm int, timeout time.Duration) *Client {
	limit := rate.Inf
	burst := 1
	if rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
		burst = max(1, rpm/10)
	}
	return &Client{
		provider: provider,
		model:    model,
		backend:  b,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		logger:   slog.Default().With("component", "llm"),
	}
}

// Provider returns the active provider
func (c *Client) Provider() Provider { return c.provider }

// Model returns the configured model name
func (c *Client) Model() string { return c.model }

// Complete sends prompt and returns the reply text. Failures are
// Unavailable errors and are not retried here.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.UnavailableError(err, "llm rate limiter wait aborted")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.backend.complete(ctx, prompt)
	metrics.LLMLatency.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
	metrics.LLMRequests.WithLabelValues(string(c.provider), metrics.Outcome(err)).Inc()
	if err != nil {
		return "", errors.UnavailableErrorf(err, "%s completion failed", c.provider).
			WithContext("model", c.model)
	}

	c.logger.Debug("llm completion",
		"provider", c.provider,
		"model", c.model,
		"prompt_length", len(prompt),
		"response_length", len(reply),
		"duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

// openaiBackend serves OpenAI and OpenAI-compatible chat endpoints
type openaiBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

func newOpenAIBackend(oc openai.ClientConfig, cfg config.LLMConfig, logger *slog.Logger) *openaiBackend {
	return &openaiBackend{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

func (b *openaiBackend) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	b.logger.Debug("openai usage", "model", b.model, "tokens_used", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
