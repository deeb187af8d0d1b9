package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.0-flash"

// geminiBackend wraps Google's Generative AI SDK
type geminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	logger      *slog.Logger
}

func newGeminiBackend(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*geminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigErrorf("llm provider gemini requires an API key (set GEMINI_API_KEY or run 'cysecmato configure')")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.UnavailableError(err, "failed to create gemini client")
	}

	return &geminiBackend{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		logger:      logger.With("model", model),
	}, nil
}

func (b *geminiBackend) complete(ctx context.Context, prompt string) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: &b.temperature,
	}
	if b.maxTokens > 0 {
		genConfig.MaxOutputTokens = b.maxTokens
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	b.logger.Debug("gemini completion", "prompt_length", len(prompt), "response_length", text.Len())
	return text.String(), nil
}
