package providers

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiModel embeds with the Gemini API
type GeminiModel struct {
	client *genai.Client
	model  string
	batch  *batcher
	meta
}

func newGeminiModel(ctx context.Context, apiKey, model string, b *batcher) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: model, batch: b}, nil
}

func (m *GeminiModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return m.batch.run(ctx, texts, m.embed)
}

func (m *GeminiModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	result, err := m.client.Models.EmbedContent(ctx, m.model, contents,
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
